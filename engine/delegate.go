package engine

import (
	"errors"
	"fmt"
	"runtime"
)

var ErrDelegateUnavailable = errors.New("edge tpu delegate unavailable")

// DefaultDelegatePaths are tried in order when the config lists none.
func DefaultDelegatePaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"libedgetpu.1.dylib", "/usr/local/lib/libedgetpu.1.dylib", "/opt/homebrew/lib/libedgetpu.1.dylib"}
	case "windows":
		return []string{"edgetpu.dll"}
	default:
		return []string{
			"libedgetpu.so.1",
			"/usr/lib/x86_64-linux-gnu/libedgetpu.so.1",
			"/usr/lib/aarch64-linux-gnu/libedgetpu.so.1",
			"/usr/lib/arm-linux-gnueabihf/libedgetpu.so.1",
			"/usr/local/lib/libedgetpu.so.1",
		}
	}
}

// loadFirst tries load on each path and returns the first success with the
// path that worked. When every path fails the error wraps
// ErrDelegateUnavailable and each individual failure.
func loadFirst[T any](paths []string, load func(string) (T, error)) (T, string, error) {
	var zero T
	if len(paths) == 0 {
		return zero, "", fmt.Errorf("%w: no delegate paths configured", ErrDelegateUnavailable)
	}
	errs := []error{ErrDelegateUnavailable}
	for _, p := range paths {
		v, err := load(p)
		if err == nil {
			return v, p, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p, err))
	}
	return zero, "", errors.Join(errs...)
}

//go:build !edgetpu || !cgo

package engine

import (
	iface "NoteDetClient/interface"
	"fmt"
)

// EdgeTPUBackend is unavailable in this build; rebuild with -tags edgetpu
// and the TFLite C library installed.
type EdgeTPUBackend struct{}

func (e *EdgeTPUBackend) LoadModel(cfg iface.EngineConfig) error {
	return fmt.Errorf("%w: built without the edgetpu tag", ErrDelegateUnavailable)
}

func (e *EdgeTPUBackend) Detect(iface.ImageData) ([]iface.Detection, error) {
	return nil, ErrNotLoaded
}

func (e *EdgeTPUBackend) CheckConfig() iface.EngineConfig { return iface.EngineConfig{} }

func (e *EdgeTPUBackend) DelegatePath() string { return "" }

func (e *EdgeTPUBackend) Destroy() {}

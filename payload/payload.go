// Package payload turns the detections of one frame into the text datagram
// sent to the robot, and back.
package payload

import (
	iface "NoteDetClient/interface"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

var ErrPayloadTooLarge = errors.New("payload exceeds maximum datagram size")

// Encoder serializes a detection batch.
type Encoder interface {
	Encode(dets []iface.Detection) ([]byte, error)
	Format() string
}

// New returns the encoder for "csv" or "json".
func New(format string) (Encoder, error) {
	switch strings.ToLower(format) {
	case "csv", "":
		return CSVEncoder{}, nil
	case "json":
		return JSONEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported payload format: %s", format)
	}
}

// Fits reports whether b can go out as a single datagram.
func Fits(b []byte) bool {
	return len(b) <= MaxDatagramSize
}

// formatFloat prints whole numbers with a trailing ".0" so 10 reads as 10.0,
// the way the receivers have always seen it.
func formatFloat(v float32) string {
	s := strconv.FormatFloat(float64(v), 'f', -1, 32)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

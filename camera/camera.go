// Package camera reads frames from a local capture device through gocv.
package camera

import (
	iface "NoteDetClient/interface"
	"NoteDetClient/vision"
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

var ErrNotOpen = errors.New("camera not open")

// Camera is an iface.Source over gocv.VideoCapture. The frame buffer is
// reused between reads; Read hands out a copy.
type Camera struct {
	Index  int
	Width  int
	Height int

	mu  sync.Mutex
	cap *gocv.VideoCapture
	buf gocv.Mat
}

func New(index int) *Camera {
	return &Camera{Index: index}
}

func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap != nil {
		return nil
	}
	vc, err := gocv.OpenVideoCapture(c.Index)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.Index, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return fmt.Errorf("open camera %d: device not available", c.Index)
	}
	if c.Width > 0 && c.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	c.cap = vc
	c.buf = gocv.NewMat()
	return nil
}

func (c *Camera) Read() (iface.ImageData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return iface.ImageData{}, ErrNotOpen
	}
	if ok := c.cap.Read(&c.buf); !ok || c.buf.Empty() {
		return iface.ImageData{}, fmt.Errorf("camera %d: failed to capture image", c.Index)
	}
	return vision.FromMat(c.buf), nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	err := c.cap.Close()
	_ = c.buf.Close()
	c.cap = nil
	return err
}

// Enumerate probes indices 0..max-1 and returns those that open and deliver
// a frame. Devices busy in another process are not listed.
func Enumerate(max int) []iface.CameraDevice {
	var found []iface.CameraDevice
	for i := 0; i < max; i++ {
		if probe(i) {
			found = append(found, iface.CameraDevice{Index: i, Name: fmt.Sprintf("Camera %d", i)})
		}
	}
	return found
}

func probe(index int) bool {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return false
	}
	defer vc.Close()
	if !vc.IsOpened() {
		return false
	}
	m := gocv.NewMat()
	defer m.Close()
	return vc.Read(&m) && !m.Empty()
}

// Lister caches Enumerate results so page loads do not probe hardware that
// the detection loop is holding. The first Devices or Refresh call probes;
// later Devices calls only read the cache.
type Lister struct {
	Max int
	// Enumerate defaults to the package Enumerate.
	Enumerate func(max int) []iface.CameraDevice

	mu      sync.Mutex
	loaded  bool
	devices []iface.CameraDevice
}

func (l *Lister) Devices() []iface.CameraDevice {
	l.mu.Lock()
	loaded := l.loaded
	l.mu.Unlock()
	if !loaded {
		l.Refresh()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]iface.CameraDevice(nil), l.devices...)
}

// Refresh probes again and replaces the cache.
func (l *Lister) Refresh() {
	max := l.Max
	if max <= 0 {
		max = 10
	}
	enumerate := l.Enumerate
	if enumerate == nil {
		enumerate = Enumerate
	}
	devs := enumerate(max)
	l.mu.Lock()
	l.devices = devs
	l.loaded = true
	l.mu.Unlock()
}

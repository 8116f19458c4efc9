// Package pipeline runs the detection loop: frame in, detections out over UDP,
// frame copy to the web relay.
package pipeline

import (
	iface "NoteDetClient/interface"
	"NoteDetClient/payload"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrDeviceOpen  = errors.New("camera could not be opened")
	ErrEndOfStream = errors.New("camera returned no frame")
)

// Outcome classifies one loop iteration.
type Outcome int

const (
	Detected Outcome = iota
	EndOfStream
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Detected:
		return "detected"
	case EndOfStream:
		return "end_of_stream"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what Step reports back to the caller.
type Result struct {
	Outcome    Outcome
	Detections []iface.Detection
	Payload    []byte
	Sent       bool
	Oversized  bool
	Err        error
}

// Publisher receives values without blocking the loop. relay.Slot and
// relay.Broadcaster both satisfy it.
type Publisher[T any] interface {
	Publish(v T)
}

// Metrics is the subset of monitor.Metrics the loop reports to.
type Metrics interface {
	ObserveFrame()
	ObserveInference(d time.Duration, n int)
	ObserveSent(n int)
	ObserveOversized()
	ObserveExit(outcome string)
}

// Runtime is everything one loop needs. Frames, JPEG, Batches, Metrics and
// Logger are optional.
type Runtime struct {
	Source   iface.Source
	Detector iface.Backend
	Encoder  payload.Encoder
	Sender   iface.Sender

	Frames  Publisher[[]byte]
	JPEG    func(iface.ImageData) ([]byte, error)
	Batches Publisher[iface.Batch]

	Metrics Metrics
	Logger  *zap.Logger
}

type Loop struct {
	rt  Runtime
	log *zap.Logger
	seq atomic.Uint64
}

func New(rt Runtime) *Loop {
	log := rt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if rt.Metrics == nil {
		rt.Metrics = nopMetrics{}
	}
	return &Loop{rt: rt, log: log}
}

// Iterations reports how many frames have been read.
func (l *Loop) Iterations() uint64 { return l.seq.Load() }

// Step runs one iteration. It never panics; a panic in a collaborator is
// reported as Fatal.
func (l *Loop) Step() (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Outcome: Fatal, Err: fmt.Errorf("panic in detection loop: %v", r)}
		}
	}()

	img, err := l.rt.Source.Read()
	if err != nil {
		return Result{Outcome: EndOfStream, Err: fmt.Errorf("%w: %w", ErrEndOfStream, err)}
	}
	if img.Empty() {
		return Result{Outcome: EndOfStream, Err: ErrEndOfStream}
	}
	seq := l.seq.Add(1)
	capturedAt := time.Now()
	l.rt.Metrics.ObserveFrame()

	start := time.Now()
	dets, err := l.rt.Detector.Detect(img)
	if err != nil {
		return Result{Outcome: Fatal, Err: fmt.Errorf("inference: %w", err)}
	}
	l.rt.Metrics.ObserveInference(time.Since(start), len(dets))
	res = Result{Outcome: Detected, Detections: dets}

	if len(dets) > 0 {
		b, err := l.rt.Encoder.Encode(dets)
		if err != nil {
			return Result{Outcome: Fatal, Detections: dets, Err: fmt.Errorf("encode payload: %w", err)}
		}
		res.Payload = b
		if !payload.Fits(b) {
			res.Oversized = true
			l.rt.Metrics.ObserveOversized()
			l.log.Warn("payload too large, datagram skipped",
				zap.Int("bytes", len(b)), zap.Int("limit", payload.MaxDatagramSize))
		} else if err := l.rt.Sender.Send(b); err != nil {
			res.Outcome = Fatal
			res.Err = fmt.Errorf("send: %w", err)
			return res
		} else {
			res.Sent = true
			l.rt.Metrics.ObserveSent(len(b))
		}
	}

	l.publishFrame(img)
	if l.rt.Batches != nil {
		l.rt.Batches.Publish(iface.Batch{
			Seq:        seq,
			CapturedAt: capturedAt,
			Width:      img.Width,
			Height:     img.Height,
			Detections: dets,
		})
	}
	return res
}

func (l *Loop) publishFrame(img iface.ImageData) {
	if l.rt.Frames == nil || l.rt.JPEG == nil {
		return
	}
	jpg, err := l.rt.JPEG(img)
	if err != nil {
		l.log.Debug("jpeg encode failed", zap.Error(err))
		return
	}
	l.rt.Frames.Publish(jpg)
}

// Run opens the source and steps until end of stream, a fatal error or ctx
// cancellation. Source and sender are always released. A clean end of stream
// or cancellation returns nil.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := l.rt.Source.Close(); cerr != nil {
			l.log.Warn("close camera", zap.Error(cerr))
		}
		if cerr := l.rt.Sender.Close(); cerr != nil {
			l.log.Warn("close socket", zap.Error(cerr))
		}
	}()

	if err := l.rt.Source.Open(); err != nil {
		l.log.Error("could not open camera", zap.Error(err))
		l.rt.Metrics.ObserveExit("device_open")
		return fmt.Errorf("%w: %w", ErrDeviceOpen, err)
	}
	l.log.Info("detection loop started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info("detection loop cancelled", zap.Uint64("frames", l.Iterations()))
			l.rt.Metrics.ObserveExit("cancelled")
			return nil
		default:
		}

		res := l.Step()
		switch res.Outcome {
		case Detected:
			if res.Sent {
				l.log.Debug("detections sent", zap.Int("count", len(res.Detections)), zap.Int("bytes", len(res.Payload)))
			}
		case EndOfStream:
			l.log.Info("camera stream ended", zap.Error(res.Err), zap.Uint64("frames", l.Iterations()))
			l.rt.Metrics.ObserveExit(res.Outcome.String())
			return nil
		case Fatal:
			l.log.Error("detection loop failed", zap.Error(res.Err))
			l.rt.Metrics.ObserveExit(res.Outcome.String())
			return res.Err
		}
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveFrame()                           {}
func (nopMetrics) ObserveInference(d time.Duration, n int) {}
func (nopMetrics) ObserveSent(n int)                       {}
func (nopMetrics) ObserveOversized()                       {}
func (nopMetrics) ObserveExit(outcome string)              {}

package main

import (
	"NoteDetClient/geometry"
	"NoteDetClient/payload"
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type receiverConfig struct {
	Port        int            `yaml:"Port"`
	MetricsPort int            `yaml:"MetricsPort"`
	LogMode     string         `yaml:"LogMode"`
	Camera      cameraDegrees  `yaml:"Camera"`
	Torus       geometry.Torus `yaml:"Torus"`
}

// cameraDegrees is the yaml form of geometry.Camera with angles in degrees.
type cameraDegrees struct {
	ImageWidth  float64 `yaml:"imageWidth"`
	ImageHeight float64 `yaml:"imageHeight"`
	FovX        float64 `yaml:"fovX"`
	FovY        float64 `yaml:"fovY"`
	X           float64 `yaml:"x"`
	Y           float64 `yaml:"y"`
	Z           float64 `yaml:"z"`
	Pitch       float64 `yaml:"pitch"`
}

func (c cameraDegrees) camera() geometry.Camera {
	return geometry.Camera{
		ImageWidth:  c.ImageWidth,
		ImageHeight: c.ImageHeight,
		FovX:        geometry.Radians(c.FovX),
		FovY:        geometry.Radians(c.FovY),
		X:           c.X,
		Y:           c.Y,
		Z:           c.Z,
		Pitch:       geometry.Radians(c.Pitch),
	}
}

func defaultReceiverConfig() receiverConfig {
	return receiverConfig{
		Port:    5806,
		LogMode: "development",
		Camera: cameraDegrees{
			ImageWidth: 640, ImageHeight: 480,
			FovX: 60, FovY: 45,
			X: 8, Y: 10.5, Z: 24,
			Pitch: -35,
		},
		Torus: geometry.DefaultTorus(),
	}
}

// loadReceiverConfig overlays path on the defaults; a missing file is fine.
func loadReceiverConfig(path string) (receiverConfig, error) {
	cfg := defaultReceiverConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

type receiverMetrics struct {
	registry *prometheus.Registry
	packets  prometheus.Counter
	rows     prometheus.Counter
	skipped  prometheus.Counter
	errors   prometheus.Counter
}

func newReceiverMetrics() *receiverMetrics {
	m := &receiverMetrics{registry: prometheus.NewRegistry()}
	m.packets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receiver_datagrams_total",
		Help: "Datagrams received",
	})
	m.rows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receiver_detections_total",
		Help: "Detections decoded",
	})
	m.skipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receiver_rows_skipped_total",
		Help: "Rows with the wrong number of columns",
	})
	m.errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receiver_decode_errors_total",
		Help: "Datagrams that could not be decoded",
	})
	m.registry.MustRegister(m.packets, m.rows, m.skipped, m.errors)
	return m
}

type receiver struct {
	cam     geometry.Camera
	torus   geometry.Torus
	log     *zap.Logger
	metrics *receiverMetrics
}

// handle decodes one datagram and analyzes every row in it.
func (r *receiver) handle(b []byte) []geometry.Analysis {
	r.metrics.packets.Inc()
	dets, skipped, err := payload.Decode(b)
	r.metrics.skipped.Add(float64(skipped))
	if skipped > 0 {
		r.log.Warn("rows with an incorrect number of columns", zap.Int("skipped", skipped))
	}
	if err != nil {
		r.metrics.errors.Inc()
		r.log.Error("error processing detection", zap.Error(err))
	}
	out := make([]geometry.Analysis, 0, len(dets))
	for _, d := range dets {
		r.metrics.rows.Inc()
		a := r.cam.Analyze(r.torus, d)
		out = append(out, a)
		r.log.Info("torus detection",
			zap.String("name", d.Label),
			zap.Float32("confidence", d.Confidence),
			zap.Float64("centerX", a.CenterX),
			zap.Float64("centerY", a.CenterY),
			zap.Float64("viewingAngleDeg", geometry.Degrees(a.Horizontal)),
			zap.Float64("verticalAngleDeg", geometry.Degrees(a.Vertical)),
			zap.Float64("rotationAngleRad", a.RotationAngle),
			zap.Float64("distance", a.Estimate.Distance),
			zap.Float64("orientationDeg", geometry.Degrees(a.Estimate.Orientation)),
			zap.Float64("estimateConfidence", a.Estimate.Confidence),
			zap.Float64("x", a.Position.X),
			zap.Float64("y", a.Position.Y),
			zap.Float64("z", a.Position.Z),
		)
	}
	return out
}

// serve reads datagrams from conn until ctx ends or conn is closed.
func (r *receiver) serve(ctx context.Context, conn net.PacketConn) error {
	done := make(chan struct{})
	stopped := make(chan struct{})
	defer func() {
		close(done)
		<-stopped
	}()
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	buf := make([]byte, payload.MaxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read datagram: %w", err)
		}
		r.log.Debug("datagram received", zap.Stringer("from", from), zap.Int("bytes", n))
		r.handle(buf[:n])
	}
}

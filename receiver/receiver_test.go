package main

import (
	"NoteDetClient/geometry"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newReceiver(t *testing.T) (*receiver, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := defaultReceiverConfig()
	return &receiver{
		cam:     cfg.Camera.camera(),
		torus:   cfg.Torus,
		log:     zap.New(core),
		metrics: newReceiverMetrics(),
	}, logs
}

func TestHandle_CSV(t *testing.T) {
	r, logs := newReceiver(t)
	msg := "xmin,ymin,xmax,ymax,confidence,class,name\n" +
		"288.0,208.0,352.0,272.0,0.9,0,note\n" +
		"1.0,2.0,3.0\n"

	out := r.handle([]byte(msg))
	require.Len(t, out, 1)
	assert.Equal(t, "note", out[0].Detection.Label)
	assert.InDelta(t, 35, geometry.Degrees(out[0].RotationAngle), 1e-6)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.packets))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.rows))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.skipped))
	assert.Equal(t, 1, logs.FilterMessage("torus detection").Len())
}

func TestHandle_JSONAndGarbage(t *testing.T) {
	r, _ := newReceiver(t)
	out := r.handle([]byte(`[{"xmin":10,"ymin":10,"xmax":50,"ymax":50,"confidence":0.9,"class":"note"}]`))
	require.Len(t, out, 1)
	assert.InDelta(t, 30, out[0].CenterX, 1e-6)

	assert.Empty(t, r.handle([]byte("[not json")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.errors))
}

func TestServe_ReadsUntilCancel(t *testing.T) {
	r, logs := newReceiver(t)
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.serve(ctx, conn) }()

	tx, err := net.Dial("udp4", conn.LocalAddr().String())
	require.NoError(t, err)
	defer tx.Close()
	_, err = tx.Write([]byte("xmin,ymin,xmax,ymax,confidence,class,name\n10.0,10.0,50.0,50.0,0.9,0,note\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return logs.FilterMessage("torus detection").Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}

type failingConn struct {
	net.PacketConn
	closed chan struct{}
}

func (c *failingConn) ReadFrom([]byte) (int, net.Addr, error) {
	return 0, nil, errors.New("interface went down")
}

func (c *failingConn) Close() error {
	close(c.closed)
	return nil
}

func TestServe_ReadErrorReleasesWatcher(t *testing.T) {
	r, _ := newReceiver(t)
	conn := &failingConn{closed: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	err := r.serve(ctx, conn)
	assert.ErrorContains(t, err, "interface went down")

	// the watcher has already returned, so cancelling must not close conn
	cancel()
	select {
	case <-conn.closed:
		t.Fatal("conn closed after serve returned")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoadReceiverConfig(t *testing.T) {
	cfg, err := loadReceiverConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5806, cfg.Port)

	p := filepath.Join(t.TempDir(), "receiver.yaml")
	require.NoError(t, os.WriteFile(p, []byte("Port: 6000\nCamera:\n  pitch: -20\n"), 0o644))
	cfg, err = loadReceiverConfig(p)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
	assert.InDelta(t, geometry.Radians(-20), cfg.Camera.camera().Pitch, 1e-12)
	assert.Equal(t, 640.0, cfg.Camera.ImageWidth)
}

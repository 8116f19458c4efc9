package pipeline

import (
	iface "NoteDetClient/interface"
	"NoteDetClient/payload"
	"NoteDetClient/relay"
	"NoteDetClient/transport"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var frame = iface.ImageData{Data: make([]byte, 4*4*3), Width: 4, Height: 4, Channels: 3}

type fakeSource struct {
	openErr error
	frames  int
	opened  bool
	closed  bool
}

func (s *fakeSource) Open() error {
	s.opened = s.openErr == nil
	return s.openErr
}

func (s *fakeSource) Read() (iface.ImageData, error) {
	if s.frames == 0 {
		return iface.ImageData{}, errors.New("no frame")
	}
	s.frames--
	return frame, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeDetector struct {
	dets  []iface.Detection
	err   error
	panic bool
}

func (d *fakeDetector) LoadModel(iface.EngineConfig) error { return nil }
func (d *fakeDetector) Destroy()                           {}
func (d *fakeDetector) CheckConfig() iface.EngineConfig    { return iface.EngineConfig{} }
func (d *fakeDetector) Detect(iface.ImageData) ([]iface.Detection, error) {
	if d.panic {
		panic("tensor shape mismatch")
	}
	return d.dets, d.err
}

type fakeSender struct {
	mu     sync.Mutex
	sent   [][]byte
	err    error
	closed bool
}

func (s *fakeSender) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, append([]byte(nil), b...))
	return nil
}

func (s *fakeSender) Close() error {
	s.closed = true
	return nil
}

func note() iface.Detection {
	return iface.Detection{XMin: 10, YMin: 10, XMax: 50, YMax: 50, Confidence: 0.9, ClassID: 0, Label: "note"}
}

func newLoop(t *testing.T, src *fakeSource, det *fakeDetector, snd *fakeSender) *Loop {
	t.Helper()
	enc, err := payload.New("csv")
	require.NoError(t, err)
	return New(Runtime{Source: src, Detector: det, Encoder: enc, Sender: snd})
}

func TestStep_EmptyDetectionsSendNothing(t *testing.T) {
	snd := &fakeSender{}
	l := newLoop(t, &fakeSource{frames: 3}, &fakeDetector{}, snd)

	for i := 0; i < 3; i++ {
		res := l.Step()
		assert.Equal(t, Detected, res.Outcome)
		assert.False(t, res.Sent)
		assert.Nil(t, res.Payload)
	}
	assert.Empty(t, snd.sent)
}

func TestStep_NoteScenarioSendsOnce(t *testing.T) {
	snd := &fakeSender{}
	l := newLoop(t, &fakeSource{frames: 1}, &fakeDetector{dets: []iface.Detection{note()}}, snd)

	res := l.Step()
	require.Equal(t, Detected, res.Outcome)
	assert.True(t, res.Sent)
	require.Len(t, snd.sent, 1)
	assert.Equal(t, res.Payload, snd.sent[0])
	assert.Contains(t, string(snd.sent[0]), "10.0,10.0,50.0,50.0,0.9,0,note")
}

func TestStep_OversizedIsSkippedAndLoopContinues(t *testing.T) {
	dets := make([]iface.Detection, 0, 3000)
	for i := 0; i < 3000; i++ {
		d := note()
		d.Label = strings.Repeat("n", 20)
		dets = append(dets, d)
	}
	snd := &fakeSender{}
	src := &fakeSource{frames: 2}
	l := newLoop(t, src, &fakeDetector{dets: dets}, snd)

	res := l.Step()
	assert.Equal(t, Detected, res.Outcome)
	assert.True(t, res.Oversized)
	assert.False(t, res.Sent)
	assert.Greater(t, len(res.Payload), payload.MaxDatagramSize)
	assert.Empty(t, snd.sent)

	// the next frame is still processed
	res = l.Step()
	assert.Equal(t, Detected, res.Outcome)
	assert.Equal(t, uint64(2), l.Iterations())
}

type sizedEncoder struct{ n int }

func (e sizedEncoder) Format() string { return "csv" }
func (e sizedEncoder) Encode([]iface.Detection) ([]byte, error) {
	return []byte(strings.Repeat("x", e.n)), nil
}

func TestStep_DatagramLimitBoundary(t *testing.T) {
	cases := []struct {
		size int
		sent bool
	}{
		{payload.MaxDatagramSize - 1, true},
		{payload.MaxDatagramSize, true},
		{payload.MaxDatagramSize + 1, false},
	}
	for _, tc := range cases {
		snd := &fakeSender{}
		l := New(Runtime{
			Source:   &fakeSource{frames: 1},
			Detector: &fakeDetector{dets: []iface.Detection{note()}},
			Encoder:  sizedEncoder{n: tc.size},
			Sender:   snd,
		})
		res := l.Step()
		assert.Equal(t, Detected, res.Outcome, tc.size)
		assert.Equal(t, tc.sent, res.Sent, tc.size)
		assert.Equal(t, !tc.sent, res.Oversized, tc.size)
		if tc.sent {
			require.Len(t, snd.sent, 1)
			assert.Len(t, snd.sent[0], tc.size)
		} else {
			assert.Empty(t, snd.sent)
		}
	}
}

func TestStep_FailuresMapToOutcomes(t *testing.T) {
	cases := []struct {
		name string
		src  *fakeSource
		det  *fakeDetector
		snd  *fakeSender
		want Outcome
	}{
		{"read failure", &fakeSource{}, &fakeDetector{}, &fakeSender{}, EndOfStream},
		{"inference error", &fakeSource{frames: 1}, &fakeDetector{err: errors.New("bad tensor")}, &fakeSender{}, Fatal},
		{"inference panic", &fakeSource{frames: 1}, &fakeDetector{panic: true}, &fakeSender{}, Fatal},
		{"send error", &fakeSource{frames: 1}, &fakeDetector{dets: []iface.Detection{note()}}, &fakeSender{err: errors.New("network unreachable")}, Fatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := newLoop(t, tc.src, tc.det, tc.snd).Step()
			assert.Equal(t, tc.want, res.Outcome)
			assert.Error(t, res.Err)
			assert.Empty(t, tc.snd.sent)
		})
	}
}

func TestStep_PublishesFrameAndBatch(t *testing.T) {
	frames := relay.NewSlot[[]byte]()
	batches := relay.NewBroadcaster[iface.Batch]()
	_, sub := batches.Subscribe()

	enc, _ := payload.New("json")
	l := New(Runtime{
		Source:   &fakeSource{frames: 1},
		Detector: &fakeDetector{dets: []iface.Detection{note()}},
		Encoder:  enc,
		Sender:   &fakeSender{},
		Frames:   frames,
		JPEG:     func(iface.ImageData) ([]byte, error) { return []byte{0xff, 0xd8}, nil },
		Batches:  batches,
	})
	require.Equal(t, Detected, l.Step().Outcome)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	jpg, ok := frames.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xd8}, jpg)

	b := <-sub
	assert.Equal(t, uint64(1), b.Seq)
	assert.Equal(t, 4, b.Width)
	assert.Len(t, b.Detections, 1)
}

func TestStep_JPEGFailureIsIgnored(t *testing.T) {
	frames := relay.NewSlot[[]byte]()
	enc, _ := payload.New("csv")
	l := New(Runtime{
		Source:   &fakeSource{frames: 1},
		Detector: &fakeDetector{},
		Encoder:  enc,
		Sender:   &fakeSender{},
		Frames:   frames,
		JPEG:     func(iface.ImageData) ([]byte, error) { return nil, errors.New("encode") },
	})
	assert.Equal(t, Detected, l.Step().Outcome)
	assert.Equal(t, uint64(0), frames.Published())
}

func TestRun_CameraOpenFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	src := &fakeSource{openErr: errors.New("index 7 out of range"), frames: 5}
	snd := &fakeSender{}
	enc, _ := payload.New("csv")
	l := New(Runtime{
		Source:   src,
		Detector: &fakeDetector{dets: []iface.Detection{note()}},
		Encoder:  enc,
		Sender:   snd,
		Logger:   zap.New(core),
	})

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceOpen)
	assert.Empty(t, snd.sent)
	assert.True(t, src.closed)
	assert.True(t, snd.closed)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestRun_EndsCleanlyAndReleases(t *testing.T) {
	src := &fakeSource{frames: 3}
	snd := &fakeSender{}
	l := newLoop(t, src, &fakeDetector{dets: []iface.Detection{note()}}, snd)

	require.NoError(t, l.Run(context.Background()))
	assert.Len(t, snd.sent, 3)
	assert.True(t, src.closed)
	assert.True(t, snd.closed)
}

func TestRun_FatalReturnsError(t *testing.T) {
	src := &fakeSource{frames: 3}
	snd := &fakeSender{}
	l := newLoop(t, src, &fakeDetector{err: errors.New("delegate crashed")}, snd)

	err := l.Run(context.Background())
	assert.ErrorContains(t, err, "delegate crashed")
	assert.True(t, src.closed)
	assert.True(t, snd.closed)
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &fakeSource{frames: 1 << 30}
	l := newLoop(t, src, &fakeDetector{}, &fakeSender{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_RealDatagram(t *testing.T) {
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rx.Close()

	snd, err := transport.NewUDPSender("127.0.0.1", rx.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, err)
	enc, _ := payload.New("csv")
	l := New(Runtime{
		Source:   &fakeSource{frames: 1},
		Detector: &fakeDetector{dets: []iface.Detection{note()}},
		Encoder:  enc,
		Sender:   snd,
	})
	require.NoError(t, l.Run(context.Background()))

	buf := make([]byte, payload.MaxDatagramSize)
	require.NoError(t, rx.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)

	got, skipped, err := payload.Decode(buf[:n])
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, got, 1)
	assert.Equal(t, "note", got[0].Label)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-6)
}

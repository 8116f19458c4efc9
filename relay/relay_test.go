package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlot_LatestValueWins(t *testing.T) {
	s := NewSlot[int]()
	s.Publish(1)
	s.Publish(2)
	s.Publish(3)

	v, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, uint64(3), s.Published())
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestSlot_NextBlocksUntilPublish(t *testing.T) {
	s := NewSlot[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := s.Next(context.Background())
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Next returned before anything was published")
	case <-time.After(50 * time.Millisecond):
	}

	s.Publish("frame")
	select {
	case v := <-got:
		assert.Equal(t, "frame", v)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestSlot_ContextAndClose(t *testing.T) {
	s := NewSlot[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := s.Next(ctx)
	assert.False(t, ok)

	done := make(chan bool, 1)
	go func() {
		_, ok := s.Next(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	s.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not wake Next")
	}

	s.Publish(7)
	assert.Equal(t, uint64(0), s.Published())
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster[[]byte]()
	idA, a := b.Subscribe()
	_, c := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	b.Publish([]byte("one"))
	assert.Equal(t, uint64(2), b.Delivered())
	assert.Equal(t, []byte("one"), <-a)

	// c has not drained "one", so "two" is dropped for c only.
	b.Publish([]byte("two"))
	assert.Equal(t, uint64(3), b.Delivered())
	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, []byte("two"), <-a)
	assert.Equal(t, []byte("one"), <-c)

	b.Unsubscribe(idA)
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())

	b.Close()
	_, open = <-c
	assert.False(t, open)
	_, late := b.Subscribe()
	_, open = <-late
	assert.False(t, open)
	b.Publish([]byte("after close"))
	assert.Equal(t, uint64(3), b.Delivered())
}

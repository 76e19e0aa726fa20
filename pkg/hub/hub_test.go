package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id  string
	cap int

	mu     sync.Mutex
	got    []string
	closed bool
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Deliver(msg Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cap > 0 && len(f.got) >= f.cap {
		return false
	}
	f.got = append(f.got, string(msg.Data))
	return true
}

func (f *fakeSub) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSub) snapshot() ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...), f.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestHubBroadcast(t *testing.T) {
	h := New("image_raw", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	require.True(t, h.Register(a))
	require.True(t, h.Register(b))

	h.Broadcast(NewBinaryMessage([]byte("one")))
	h.Broadcast(NewTextMessage([]byte("two")))

	waitFor(t, func() bool {
		ga, _ := a.snapshot()
		gb, _ := b.snapshot()
		return len(ga) == 2 && len(gb) == 2
	})

	got, _ := a.snapshot()
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, 2, h.SubscriberCount())
	waitFor(t, func() bool { return h.Stats().Delivered == 4 })
	assert.Equal(t, int64(2), h.Stats().Published)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := New("t", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &fakeSub{id: "slow", cap: 1}
	fast := &fakeSub{id: "fast"}
	h.Register(slow)
	h.Register(fast)

	h.Broadcast(NewBinaryMessage([]byte("1")))
	h.Broadcast(NewBinaryMessage([]byte("2")))

	waitFor(t, func() bool {
		_, closed := slow.snapshot()
		return closed
	})
	waitFor(t, func() bool {
		got, _ := fast.snapshot()
		return len(got) == 2
	})

	assert.Equal(t, 1, h.SubscriberCount())
	waitFor(t, func() bool { return h.Stats().DroppedSubscribers == 1 })
}

func TestHubUnregister(t *testing.T) {
	h := New("t", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	s := &fakeSub{id: "s"}
	h.Register(s)
	h.Unregister(s)

	waitFor(t, func() bool { return h.SubscriberCount() == 0 })
	_, closed := s.snapshot()
	assert.True(t, closed, "unregistered subscriber was not closed")
}

func TestHubStop(t *testing.T) {
	h := New("t", nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	s := &fakeSub{id: "s"}
	h.Register(s)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, closed := s.snapshot()
	assert.True(t, closed, "subscriber not closed on stop")
	assert.False(t, h.Register(&fakeSub{id: "late"}), "Register on a stopped hub")
	assert.False(t, h.Broadcast(NewBinaryMessage(nil)), "Broadcast on a stopped hub")
	h.Stop()
}

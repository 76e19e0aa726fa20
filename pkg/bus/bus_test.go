package bus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic string
		ok    bool
	}{
		{"image_raw", true},
		{"camera/image_raw", true},
		{"", false},
		{"/image_raw", false},
		{"image_raw/", false},
		{"a//b", false},
		{"a b", false},
		{"a?b", false},
		{"a/*", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTopic))
			}
		})
	}
}

// blockingHandler records payloads and blocks on the first one until release
// is closed.
type blockingHandler struct {
	started chan struct{}
	release chan struct{}

	mu   sync.Mutex
	got  []string
	once sync.Once
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (h *blockingHandler) handle(p []byte) {
	h.mu.Lock()
	h.got = append(h.got, string(p))
	h.mu.Unlock()

	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.started)
		<-h.release
	}
}

func (h *blockingHandler) payloads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.got...)
}

func TestQueue_DropsOldestWhileHandlerBusy(t *testing.T) {
	h := newBlockingHandler()
	q := NewQueue(1, h.handle)
	defer q.Close()

	q.Push([]byte("frame1"))
	<-h.started

	assert.False(t, q.Push([]byte("frame2")))
	assert.True(t, q.Push([]byte("frame3")), "frame2 should be evicted")
	assert.Equal(t, 1, q.Len())

	close(h.release)

	require.Eventually(t, func() bool {
		return len(h.payloads()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"frame1", "frame3"}, h.payloads())

	s := q.Stats()
	assert.Equal(t, int64(3), s.Received)
	assert.Equal(t, int64(1), s.Dropped)
	assert.Equal(t, int64(2), s.Delivered)
}

func TestQueue_DeeperQueueKeepsOrder(t *testing.T) {
	h := newBlockingHandler()
	q := NewQueue(2, h.handle)
	defer q.Close()

	q.Push([]byte("a"))
	<-h.started
	q.Push([]byte("b"))
	q.Push([]byte("c"))
	q.Push([]byte("d"))
	close(h.release)

	require.Eventually(t, func() bool {
		return len(h.payloads()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "c", "d"}, h.payloads())
}

func TestQueue_PushAfterClose(t *testing.T) {
	var calls int
	q := NewQueue(1, func([]byte) { calls++ })
	q.Close()
	q.Close()

	assert.False(t, q.Push([]byte("late")))
	assert.Equal(t, 0, calls)
	assert.Equal(t, int64(0), q.Stats().Received)
}

func TestLocal_PublishSubscribe(t *testing.T) {
	b := NewLocal(nil)
	defer b.Close()

	got := make(chan []byte, 4)
	sub, err := b.Subscribe("camera/image_raw", SubscribeOptions{QueueSize: 4}, func(p []byte) {
		got <- p
	})
	require.NoError(t, err)
	assert.Equal(t, "camera/image_raw", sub.Topic())

	other, err := b.Publisher("other")
	require.NoError(t, err)
	require.NoError(t, other.Publish([]byte("ignored")))

	pub, err := b.Publisher("camera/image_raw")
	require.NoError(t, err)

	buf := []byte("hello")
	require.NoError(t, pub.Publish(buf))
	buf[0] = 'j'

	select {
	case p := <-got:
		assert.Equal(t, "hello", string(p), "payload is copied on publish")
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	stats := b.Stats()
	assert.Equal(t, 1, stats.Topics)
	assert.Equal(t, 1, stats.Subscriptions)
	assert.Equal(t, int64(2), stats.MessagesPublished)
}

func TestLocal_FanOut(t *testing.T) {
	b := NewLocal(nil)
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		_, err := b.Subscribe("t", SubscribeOptions{}, func([]byte) { wg.Done() })
		require.NoError(t, err)
	}

	pub, err := b.Publisher("t")
	require.NoError(t, err)
	require.NoError(t, pub.Publish([]byte("x")))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not every subscriber received the message")
	}
}

func TestLocal_CloseSemantics(t *testing.T) {
	b := NewLocal(nil)

	sub, err := b.Subscribe("t", SubscribeOptions{}, func([]byte) {})
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, b.Stats().Subscriptions)

	pub, err := b.Publisher("t")
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	assert.True(t, errors.Is(pub.Publish([]byte("x")), ErrClosed))

	require.NoError(t, b.Close())
	_, err = b.Publisher("t")
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = b.Subscribe("t", SubscribeOptions{}, func([]byte) {})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestLocal_RejectsBadInput(t *testing.T) {
	b := NewLocal(nil)
	defer b.Close()

	_, err := b.Publisher("")
	assert.True(t, errors.Is(err, ErrInvalidTopic))

	_, err = b.Subscribe("t", SubscribeOptions{}, nil)
	assert.Error(t, err)
}

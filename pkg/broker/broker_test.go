package broker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-yolobridge/pkg/bus"
	"github.com/teslashibe/go-yolobridge/pkg/hub"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Listen = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ClientBuffer = 0
	assert.Error(t, bad.Validate())

	_, err := New(bad, nil)
	assert.Error(t, err)
}

func TestEmbeddedBus(t *testing.T) {
	b := newTestBroker(t)

	got := make(chan string, 2)
	sub, err := b.Subscribe("camera/image_raw", bus.SubscribeOptions{QueueSize: 2}, func(p []byte) {
		got <- string(p)
	})
	require.NoError(t, err)
	defer sub.Close()

	pub, err := b.Publisher("camera/image_raw")
	require.NoError(t, err)
	assert.Equal(t, "camera/image_raw", pub.Topic())

	require.NoError(t, pub.Publish([]byte("frame")))

	select {
	case p := <-got:
		assert.Equal(t, "frame", p)
	case <-time.After(time.Second):
		t.Fatal("embedded subscriber got nothing")
	}

	topics := b.Topics()
	require.Len(t, topics, 1)
	assert.Equal(t, "camera/image_raw", topics[0].Topic)
	assert.Equal(t, 1, topics[0].Subscribers)
}

func TestEmbeddedBus_Closed(t *testing.T) {
	b := newTestBroker(t)
	pub, err := b.Publisher("t")
	require.NoError(t, err)

	require.NoError(t, b.Close())

	assert.True(t, errors.Is(pub.Publish([]byte("x")), bus.ErrClosed))
	_, err = b.Publisher("t")
	assert.True(t, errors.Is(err, bus.ErrClosed))
	_, err = b.Subscribe("t", bus.SubscribeOptions{}, func([]byte) {})
	assert.True(t, errors.Is(err, bus.ErrClosed))
}

func TestEmbeddedBus_InvalidTopic(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.Publisher("/abs")
	assert.True(t, errors.Is(err, bus.ErrInvalidTopic))
}

func TestAPIRoutes(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.Publisher("detection_result")
	require.NoError(t, err)
	b.SetStatus("bridge", func() any { return map[string]int{"frames": 3} })

	t.Run("health", func(t *testing.T) {
		resp, err := b.App().Test(httptest.NewRequest("GET", "/api/health", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, float64(1), body["topics"])
	})

	t.Run("topics", func(t *testing.T) {
		resp, err := b.App().Test(httptest.NewRequest("GET", "/api/topics", nil))
		require.NoError(t, err)

		var stats []hub.Stats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
		require.Len(t, stats, 1)
		assert.Equal(t, "detection_result", stats[0].Topic)
	})

	t.Run("status", func(t *testing.T) {
		resp, err := b.App().Test(httptest.NewRequest("GET", "/api/status/bridge", nil))
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"frames":3}`, string(body))
	})

	t.Run("status_unknown", func(t *testing.T) {
		resp, err := b.App().Test(httptest.NewRequest("GET", "/api/status/nope", nil))
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)
	})

	t.Run("ws_requires_upgrade", func(t *testing.T) {
		resp, err := b.App().Test(httptest.NewRequest("GET", "/ws/sub?topic=x", nil))
		require.NoError(t, err)
		assert.Equal(t, 426, resp.StatusCode)
	})
}

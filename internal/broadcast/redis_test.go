package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewSink(rdb, zap.NewNop())
}

func TestChatChannel(t *testing.T) {
	chatID := uuid.New()
	require.Equal(t, "chat."+chatID.String(), ChatChannel(chatID))
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()
	channel := ChatChannel(uuid.New())

	envelopes, stop := sink.Subscribe(ctx, channel)
	defer stop()

	// Give the subscriber a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	type payload struct {
		MessageID int64 `json:"message_id"`
	}
	require.NoError(t, sink.Publish(ctx, channel, "MessageDeleted", payload{MessageID: 42}))

	select {
	case env := <-envelopes:
		require.Equal(t, "MessageDeleted", env.Event)

		var got payload
		require.NoError(t, json.Unmarshal(env.Data, &got))
		require.Equal(t, int64(42), got.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestSubscribeStopClosesStream(t *testing.T) {
	sink := newTestSink(t)
	channel := ChatChannel(uuid.New())

	envelopes, stop := sink.Subscribe(context.Background(), channel)
	stop()

	select {
	case _, open := <-envelopes:
		require.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after stop")
	}
}

// Package broadcast is the pub/sub sink chat events flow through. Each
// chat has its own channel ("chat.{chatId}"); events are JSON envelopes
// of {event, data}. Redis pub/sub does the fan-out; the websocket layer
// bridges channels to connected clients.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChatChannel returns the pub/sub channel name for a chat.
func ChatChannel(chatID uuid.UUID) string {
	return "chat." + chatID.String()
}

// Envelope is the wire format on every channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Sink struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewSink(rdb *redis.Client, logger *zap.Logger) *Sink {
	return &Sink{rdb: rdb, logger: logger}
}

func (s *Sink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Sink) Close() error {
	return s.rdb.Close()
}

// Publish sends one event envelope to a channel. Callers treat failures
// as fire-and-forget; this only reports them.
func (s *Sink) Publish(ctx context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := s.rdb.Publish(ctx, channel, env).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe starts listening on a channel and returns a stream of
// envelopes plus a stop function. The stream closes when stop is called
// or ctx ends. Malformed payloads are logged and skipped.
func (s *Sink) Subscribe(ctx context.Context, channel string) (<-chan Envelope, func()) {
	pubsub := s.rdb.Subscribe(ctx, channel)
	out := make(chan Envelope, 16)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.logger.Warn("dropping malformed broadcast payload",
					zap.String("channel", channel),
					zap.Error(err),
				)
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() {
		_ = pubsub.Close()
	}
	return out, stop
}

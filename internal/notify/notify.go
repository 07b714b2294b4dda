// Package notify tells PC clients when they may be used.
package notify

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	EventUnlock = "unlock"
	EventLock   = "lock"
)

// DefaultChannel is the pub/sub channel PC clients subscribe to.
const DefaultChannel = "pc:commands"

type Event struct {
	Type      string    `json:"type"`
	PCID      string    `json:"pcId"`
	SessionID string    `json:"sessionId,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivery is best effort; billing never rolls back on a failed send.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, event Event) error {
	n.Logger.Info().
		Str("event", event.Type).
		Str("pc_id", event.PCID).
		Str("session_id", event.SessionID).
		Msg("pc notification")
	return nil
}

type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Recorder keeps events in memory. Tests use it to assert notifications.
type Recorder struct {
	events chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Event, size)}
}

func (r *Recorder) Notify(_ context.Context, event Event) error {
	select {
	case r.events <- event:
	default:
	}
	return nil
}

func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

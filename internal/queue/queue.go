// Package queue carries remediation intents from the autonomy layer to the
// actuator. Intents are consume-once.
package queue

import (
	"context"
	"errors"

	"github.com/miradorstack/mirador-autoheal/internal/models"
)

// ErrQueueFull is returned when an intent cannot be buffered.
var ErrQueueFull = errors.New("intent queue full")

// Queue is the intent transport.
type Queue interface {
	Publish(ctx context.Context, intent models.RemediationIntent) error
	// Drain removes and returns up to max pending intents, oldest first.
	Drain(ctx context.Context, max int) ([]models.RemediationIntent, error)
	Close() error
}

// ChannelQueue is an in-process queue backed by a buffered channel.
type ChannelQueue struct {
	ch chan models.RemediationIntent
}

// NewChannelQueue returns a queue holding at most size intents.
func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 16
	}
	return &ChannelQueue{ch: make(chan models.RemediationIntent, size)}
}

// Publish implements Queue without blocking.
func (q *ChannelQueue) Publish(ctx context.Context, intent models.RemediationIntent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- intent:
		return nil
	default:
		return ErrQueueFull
	}
}

// Drain implements Queue without blocking.
func (q *ChannelQueue) Drain(ctx context.Context, max int) ([]models.RemediationIntent, error) {
	var out []models.RemediationIntent
	for max <= 0 || len(out) < max {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		select {
		case intent := <-q.ch:
			out = append(out, intent)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Len reports the number of pending intents.
func (q *ChannelQueue) Len() int { return len(q.ch) }

// Close implements Queue. Pending intents are dropped.
func (q *ChannelQueue) Close() error { return nil }

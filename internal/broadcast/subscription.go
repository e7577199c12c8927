package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelis/jobfeed/internal/event"
	"github.com/avelis/jobfeed/internal/metrics"
)

// Subscription is one client's live attachment to a channel. The registry
// and the heartbeat goroutine write to the queue; only the owning stream
// reads from it.
type Subscription struct {
	// ID uniquely identifies the subscription for bookkeeping and logs.
	ID uuid.UUID
	// Channel is the topic this subscription is attached to.
	Channel string

	queue           chan event.Envelope
	cancelHeartbeat context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

func newSubscription(channel string, queueSize int) *Subscription {
	return &Subscription{
		ID:      uuid.New(),
		Channel: channel,
		queue:   make(chan event.Envelope, queueSize),
		closed:  make(chan struct{}),
	}
}

// Events exposes the subscriber queue to the owning stream.
func (s *Subscription) Events() <-chan event.Envelope {
	return s.queue
}

// Done is closed once the subscription has been disconnected. Publishers
// and the stream race their blocking operations against it.
func (s *Subscription) Done() <-chan struct{} {
	return s.closed
}

func (s *Subscription) markClosed() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// runHeartbeat injects keep-alive envelopes into the subscriber queue until
// ctx is cancelled. Heartbeats only defeat idle-connection timeouts; when
// the queue is full they are dropped rather than blocking, since a stalled
// consumer is evicted by the next business publish anyway.
func (s *Subscription) runHeartbeat(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			env := event.New(event.KindHeartbeat, map[string]any{
				"timestamp": now.UTC().Unix(),
			})
			select {
			case s.queue <- env:
				metrics.HeartbeatSent()
			case <-ctx.Done():
				return
			default:
				logger.Debug("heartbeat dropped, subscriber queue full",
					zap.String("channel", s.Channel),
					zap.String("subscription_id", s.ID.String()),
				)
			}
		}
	}
}

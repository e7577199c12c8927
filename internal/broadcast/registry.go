package broadcast

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avelis/jobfeed/internal/event"
	"github.com/avelis/jobfeed/internal/metrics"
)

// Config controls registry behavior.
//   - HeartbeatInterval: period between keep-alive envelopes (default 30s).
//   - PublishTimeout: bounded wait per subscriber before it is treated as
//     dead and force-disconnected (default 1s).
//   - QueueSize: capacity of each subscriber queue (default 64).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	HeartbeatInterval time.Duration
	PublishTimeout    time.Duration
	QueueSize         int
	Logger            *zap.Logger
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultPublishTimeout    = time.Second
	defaultQueueSize         = 64
)

// Registry owns the channel -> subscriber-set map. It is safe for
// concurrent Connect/Disconnect/Publish from different goroutines; the map
// is the only shared mutable state and every mutation happens under mu.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	channels map[string]map[*Subscription]struct{}
}

// NewRegistry builds a Registry ready for use.
func NewRegistry(cfg Config) *Registry {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		channels: make(map[string]map[*Subscription]struct{}),
	}
}

// Connect registers a fresh subscription under channel and starts its
// heartbeat. It never fails; a channel springs into existence the moment
// its first subscriber arrives.
func (r *Registry) Connect(channel string) *Subscription {
	sub := newSubscription(channel, r.cfg.QueueSize)

	hbCtx, cancel := context.WithCancel(context.Background())
	sub.cancelHeartbeat = cancel
	go sub.runHeartbeat(hbCtx, r.cfg.HeartbeatInterval, r.logger)

	r.mu.Lock()
	set, ok := r.channels[channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		r.channels[channel] = set
	}
	set[sub] = struct{}{}
	count := len(set)
	r.mu.Unlock()

	metrics.SubscriberConnected(channel)
	r.logger.Debug("subscriber connected",
		zap.String("channel", channel),
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("subscribers", count),
	)
	return sub
}

// Disconnect cancels the subscription's heartbeat, removes it from the
// channel set, and prunes the channel entry once the set is empty. It is
// idempotent; disconnecting an already-removed subscription is a no-op.
func (r *Registry) Disconnect(channel string, sub *Subscription) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	set, ok := r.channels[channel]
	if ok {
		if _, member := set[sub]; member {
			delete(set, sub)
			if len(set) == 0 {
				delete(r.channels, channel)
			}
		} else {
			ok = false
		}
	}
	r.mu.Unlock()

	if sub.cancelHeartbeat != nil {
		sub.cancelHeartbeat()
	}
	sub.markClosed()

	if ok {
		metrics.SubscriberDisconnected(channel)
		r.logger.Debug("subscriber disconnected",
			zap.String("channel", channel),
			zap.String("subscription_id", sub.ID.String()),
		)
	}
}

// Publish fans the envelope out to every subscriber on channel. With no
// subscribers it is a silent no-op. Each enqueue waits at most the
// configured publish timeout; a subscriber that accepts nothing within
// that window is treated as dead and force-disconnected while delivery
// continues to the rest. Delivery failures are logged, never returned.
func (r *Registry) Publish(ctx context.Context, channel string, kind event.Kind, data map[string]any) {
	r.mu.Lock()
	set := r.channels[channel]
	subs := make([]*Subscription, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	env := event.New(kind, data)
	for _, sub := range subs {
		r.deliver(ctx, sub, env)
	}
	metrics.EventPublished(string(kind))
}

func (r *Registry) deliver(ctx context.Context, sub *Subscription, env event.Envelope) {
	timer := time.NewTimer(r.cfg.PublishTimeout)
	defer timer.Stop()

	select {
	case sub.queue <- env:
	case <-sub.Done():
		// Already disconnected; nothing to deliver to.
	case <-ctx.Done():
		r.logger.Debug("publish abandoned, caller context cancelled",
			zap.String("channel", sub.Channel),
			zap.String("kind", string(env.Kind)),
		)
	case <-timer.C:
		metrics.SlowConsumerEvicted(sub.Channel)
		r.logger.Warn("evicting slow subscriber",
			zap.String("channel", sub.Channel),
			zap.String("subscription_id", sub.ID.String()),
			zap.Duration("timeout", r.cfg.PublishTimeout),
		)
		r.Disconnect(sub.Channel, sub)
	}
}

// SubscriberCount reports how many subscribers channel currently has.
func (r *Registry) SubscriberCount(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[channel])
}

// ActiveChannels lists every channel that has at least one subscriber.
func (r *Registry) ActiveChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for channel := range r.channels {
		out = append(out, channel)
	}
	return out
}

// CloseChannel force-disconnects every subscriber on channel. Used for
// explicit shutdown.
func (r *Registry) CloseChannel(channel string) {
	r.mu.Lock()
	set := r.channels[channel]
	subs := make([]*Subscription, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		r.Disconnect(channel, sub)
	}
}

// Close force-disconnects everything. Called once during process shutdown.
func (r *Registry) Close() {
	for _, channel := range r.ActiveChannels() {
		r.CloseChannel(channel)
	}
}

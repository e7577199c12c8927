package broadcast

import (
	"context"

	"go.uber.org/zap"

	"github.com/avelis/jobfeed/internal/event"
	"github.com/avelis/jobfeed/internal/metrics"
)

// Stream turns one subscription's queue into a lazy sequence of SSE
// frames. The first frame is always a connected event; afterwards frames
// are produced until the consuming context is cancelled, the subscription
// is force-disconnected, or a payload fails to frame (which yields one
// terminal error frame). Whatever the exit path, the subscription is
// unsubscribed and its heartbeat cancelled.
type Stream struct {
	reg    *Registry
	sub    *Subscription
	logger *zap.Logger
}

// NewStream binds a subscription to the registry that owns it.
func NewStream(reg *Registry, sub *Subscription) *Stream {
	return &Stream{reg: reg, sub: sub, logger: reg.logger}
}

// Frames starts the streaming goroutine and returns the frame channel. The
// channel is closed only after cleanup has run, so a crashed or
// disconnected client can never leak a registry entry or an orphaned
// heartbeat.
func (s *Stream) Frames(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		defer s.reg.Disconnect(s.sub.Channel, s.sub)
		metrics.StreamOpened(s.sub.Channel)
		defer metrics.StreamClosed(s.sub.Channel)
		s.run(ctx, out)
	}()
	return out
}

func (s *Stream) run(ctx context.Context, out chan<- string) {
	connected, err := event.Format(event.KindConnected, map[string]any{
		"channel": s.sub.Channel,
		"status":  "connected",
	})
	if err != nil {
		// Static payload; unreachable in practice.
		s.logger.Error("frame connected event", zap.Error(err))
		return
	}
	if !s.emit(ctx, out, connected) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.sub.Done():
			return
		case env := <-s.sub.Events():
			frame, err := env.Frame()
			if err != nil {
				s.logger.Warn("unframeable event on subscriber queue",
					zap.String("channel", s.sub.Channel),
					zap.String("kind", string(env.Kind)),
					zap.Error(err),
				)
				s.emitError(ctx, out, err)
				return
			}
			if !s.emit(ctx, out, frame) {
				return
			}
		}
	}
}

// emitError sends one final error frame; failures to deliver it are
// ignored since the stream is terminating either way.
func (s *Stream) emitError(ctx context.Context, out chan<- string, cause error) {
	frame, err := event.Format(event.KindError, map[string]any{
		"error": cause.Error(),
	})
	if err != nil {
		return
	}
	s.emit(ctx, out, frame)
}

func (s *Stream) emit(ctx context.Context, out chan<- string, frame string) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

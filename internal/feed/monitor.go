package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avelis/jobfeed/internal/metrics"
	"github.com/avelis/jobfeed/internal/store"
)

// MonitorConfig controls the session monitor.
//   - PollInterval: time between session re-reads (default 2s).
//   - BaseContext: parent context for monitor goroutines; monitors stop on
//     a terminal session status or a read failure, not on client
//     disconnect, so this is the process context rather than a request
//     context (defaults to context.Background()).
//   - Logger: optional structured logger.
type MonitorConfig struct {
	PollInterval time.Duration
	BaseContext  context.Context
	Logger       *zap.Logger
}

const defaultPollInterval = 2 * time.Second

// SessionMonitor re-reads session records on a fixed interval and
// republishes state edge-triggered: a frame goes out only when the
// observed status or scraped count differs from the last observed value.
// One goroutine runs per watched session, even while the channel has no
// subscribers, so a late-joining subscriber still sees final progress.
type SessionMonitor struct {
	sessions store.SessionRepository
	feed     *ScrapingBroadcaster
	interval time.Duration
	baseCtx  context.Context
	logger   *zap.Logger

	mu     sync.Mutex
	active map[int64]struct{}
}

// NewSessionMonitor wires the repository and broadcaster.
func NewSessionMonitor(sessions store.SessionRepository, feed *ScrapingBroadcaster, cfg MonitorConfig) *SessionMonitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionMonitor{
		sessions: sessions,
		feed:     feed,
		interval: cfg.PollInterval,
		baseCtx:  cfg.BaseContext,
		logger:   logger,
		active:   make(map[int64]struct{}),
	}
}

// Watch starts a polling goroutine for sessionID. It reports whether a new
// monitor was started; a session already being watched is left alone.
func (m *SessionMonitor) Watch(sessionID int64) bool {
	m.mu.Lock()
	if _, running := m.active[sessionID]; running {
		m.mu.Unlock()
		return false
	}
	m.active[sessionID] = struct{}{}
	m.mu.Unlock()

	go m.run(sessionID)
	return true
}

// Watching reports whether a monitor goroutine is live for sessionID.
func (m *SessionMonitor) Watching(sessionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.active[sessionID]
	return running
}

func (m *SessionMonitor) run(sessionID int64) {
	defer func() {
		m.mu.Lock()
		delete(m.active, sessionID)
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	lastStatus := store.SessionStatus("")
	lastScraped := -1

	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			sess, err := m.sessions.GetSession(m.baseCtx, sessionID)
			if err != nil {
				metrics.MonitorPoll("error")
				m.logger.Warn("session monitor read failed",
					zap.Int64("session_id", sessionID),
					zap.Error(err),
				)
				m.feed.BroadcastError(m.baseCtx, sessionID, err.Error())
				return
			}

			changed := false
			if sess.Status != lastStatus {
				m.feed.BroadcastStatusChange(m.baseCtx, sessionID, string(sess.Status))
				lastStatus = sess.Status
				changed = true
			}
			if sess.JobsScraped != lastScraped {
				m.feed.BroadcastProgress(m.baseCtx, sessionID, sess.JobsScraped, sess.TotalJobs)
				lastScraped = sess.JobsScraped
				changed = true
			}

			if sess.Status.Terminal() {
				metrics.MonitorPoll("terminal")
				data := map[string]any{
					"status":       string(sess.Status),
					"jobs_scraped": sess.JobsScraped,
					"total_jobs":   sess.TotalJobs,
				}
				if sess.CompletedAt != nil {
					data["completed_at"] = sess.CompletedAt.UTC().Format(time.RFC3339)
				}
				m.feed.BroadcastComplete(m.baseCtx, sessionID, data)
				m.logger.Info("session monitor finished",
					zap.Int64("session_id", sessionID),
					zap.String("status", string(sess.Status)),
				)
				return
			}

			if changed {
				metrics.MonitorPoll("changed")
			} else {
				metrics.MonitorPoll("unchanged")
			}
		}
	}
}

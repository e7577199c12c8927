package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avelis/jobfeed/internal/event"
	"github.com/avelis/jobfeed/internal/store"
)

type stubSessionRepo struct {
	mu    sync.Mutex
	sess  store.Session
	err   error
	reads int
}

func (r *stubSessionRepo) GetSession(context.Context, int64) (store.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return store.Session{}, r.err
	}
	return r.sess, nil
}

func (r *stubSessionRepo) set(sess store.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sess = sess
}

func (r *stubSessionRepo) readCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func collectEnvelopes(t *testing.T, sub interface{ Events() <-chan event.Envelope }, want event.Kind, timeout time.Duration) []event.Envelope {
	t.Helper()
	var got []event.Envelope
	deadline := time.After(timeout)
	for {
		select {
		case env := <-sub.Events():
			got = append(got, env)
			if env.Kind == want {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q; collected %d envelopes", want, len(got))
		}
	}
}

// TestMonitorEdgeTriggeredTerminal drives running -> completed and asserts
// exactly one status_change for the transition, exactly one complete, and
// no further session reads after the terminal frame.
func TestMonitorEdgeTriggeredTerminal(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	scraping := NewScrapingBroadcaster(reg)
	repo := &stubSessionRepo{sess: store.Session{ID: 1, Status: store.SessionRunning, JobsScraped: 5, TotalJobs: 10}}
	mon := NewSessionMonitor(repo, scraping, MonitorConfig{PollInterval: 10 * time.Millisecond})

	sub := reg.Connect("scraping_1")
	defer reg.Disconnect("scraping_1", sub)

	require.True(t, mon.Watch(1))

	// Baseline observation: first poll publishes the running status and
	// the current counts.
	got := collectEnvelopes(t, sub, event.KindProgress, time.Second)
	require.Equal(t, event.KindStatusChange, got[0].Kind)
	require.Equal(t, "running", got[0].Data["status"])

	// Flip to terminal; the monitor must emit the transition then stop.
	repo.set(store.Session{ID: 1, Status: store.SessionCompleted, JobsScraped: 10, TotalJobs: 10})

	got = collectEnvelopes(t, sub, event.KindComplete, time.Second)
	statusChanges := 0
	completes := 0
	for _, env := range got {
		switch env.Kind {
		case event.KindStatusChange:
			statusChanges++
			require.Equal(t, "completed", env.Data["status"])
		case event.KindComplete:
			completes++
			require.Equal(t, "completed", env.Data["status"])
			require.Equal(t, 10, env.Data["jobs_scraped"])
		}
	}
	require.Equal(t, 1, statusChanges)
	require.Equal(t, 1, completes)

	// No further polling once terminal.
	require.Eventually(t, func() bool { return !mon.Watching(1) }, time.Second, 5*time.Millisecond)
	reads := repo.readCount()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, reads, repo.readCount())
}

// TestMonitorUnchangedStatePublishesNothing verifies edge triggering:
// identical polls produce no envelopes.
func TestMonitorUnchangedStatePublishesNothing(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	scraping := NewScrapingBroadcaster(reg)
	repo := &stubSessionRepo{sess: store.Session{ID: 2, Status: store.SessionRunning, JobsScraped: 3, TotalJobs: 9}}
	mon := NewSessionMonitor(repo, scraping, MonitorConfig{PollInterval: 10 * time.Millisecond})

	sub := reg.Connect("scraping_2")
	defer reg.Disconnect("scraping_2", sub)

	require.True(t, mon.Watch(2))

	// Swallow the baseline pair, then expect silence across many polls.
	collectEnvelopes(t, sub, event.KindProgress, time.Second)
	require.Eventually(t, func() bool { return repo.readCount() >= 5 }, time.Second, 5*time.Millisecond)

	select {
	case env := <-sub.Events():
		t.Fatalf("unexpected envelope for unchanged session: %v", env.Kind)
	default:
	}
}

// TestMonitorReadFailurePublishesErrorAndStops covers the session
// disappearing mid-run.
func TestMonitorReadFailurePublishesErrorAndStops(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	scraping := NewScrapingBroadcaster(reg)
	repo := &stubSessionRepo{err: errors.New("session vanished")}
	mon := NewSessionMonitor(repo, scraping, MonitorConfig{PollInterval: 10 * time.Millisecond})

	sub := reg.Connect("scraping_3")
	defer reg.Disconnect("scraping_3", sub)

	require.True(t, mon.Watch(3))

	env := <-sub.Events()
	require.Equal(t, event.KindError, env.Kind)
	require.Contains(t, env.Data["error"], "session vanished")

	require.Eventually(t, func() bool { return !mon.Watching(3) }, time.Second, 5*time.Millisecond)
	reads := repo.readCount()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, reads, repo.readCount())
}

// TestMonitorWatchIsDeduplicated ensures one goroutine per session.
func TestMonitorWatchIsDeduplicated(t *testing.T) {
	t.Parallel()

	repo := &stubSessionRepo{sess: store.Session{ID: 4, Status: store.SessionRunning}}
	mon := NewSessionMonitor(repo, NewScrapingBroadcaster(newTestRegistry()), MonitorConfig{PollInterval: time.Hour})

	require.True(t, mon.Watch(4))
	require.False(t, mon.Watch(4))
	require.True(t, mon.Watching(4))
}

// TestMonitorStopsWithBaseContext covers process shutdown.
func TestMonitorStopsWithBaseContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	repo := &stubSessionRepo{sess: store.Session{ID: 5, Status: store.SessionRunning}}
	mon := NewSessionMonitor(repo, NewScrapingBroadcaster(newTestRegistry()), MonitorConfig{
		PollInterval: 10 * time.Millisecond,
		BaseContext:  ctx,
	})

	require.True(t, mon.Watch(5))
	cancel()
	require.Eventually(t, func() bool { return !mon.Watching(5) }, time.Second, 5*time.Millisecond)
}

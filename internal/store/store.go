// Package store declares read-only interfaces for the session and analysis
// records the feed layer observes. Implementations live in other packages;
// this package must not import database drivers or concrete clients.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SessionStatus mirrors the scraping_sessions status column.
type SessionStatus string

// Session statuses persisted in scraping_sessions.status.
const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionStopped   SessionStatus = "stopped"
)

// Terminal reports whether the status ends a session's lifecycle. The
// monitor stops polling once it observes a terminal status.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionStopped:
		return true
	default:
		return false
	}
}

// Session is the slice of a scraping session the monitor re-reads on every
// poll tick.
type Session struct {
	// ID is the numeric session identifier used in channel names.
	ID int64
	// Status is pending/running/completed/failed/stopped.
	Status SessionStatus
	// JobsScraped counts listings scraped so far.
	JobsScraped int
	// TotalJobs is the expected total, zero when unknown.
	TotalJobs int
	// CompletedAt is nil until the session reaches a terminal status.
	CompletedAt *time.Time
}

// Analysis models a document-analysis job for existence checks on the
// analysis feed.
type Analysis struct {
	// ID is the numeric analysis identifier used in channel names.
	ID int64
	// Status is the analysis lifecycle state.
	Status string
	// CompletedAt is nil while the analysis is still running.
	CompletedAt *time.Time
}

// SessionRepository reads scraping session state.
type SessionRepository interface {
	// GetSession loads one session or returns ErrNotFound.
	GetSession(ctx context.Context, id int64) (Session, error)
}

// AnalysisRepository reads document-analysis state.
type AnalysisRepository interface {
	// GetAnalysis loads one analysis or returns ErrNotFound.
	GetAnalysis(ctx context.Context, id int64) (Analysis, error)
}

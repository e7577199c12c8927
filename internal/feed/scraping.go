package feed

import (
	"context"
	"fmt"

	"github.com/avelis/jobfeed/internal/broadcast"
	"github.com/avelis/jobfeed/internal/event"
)

const scrapingPrefix = "scraping"

// ScrapingBroadcaster publishes scraping-session events. It only shapes
// payloads (merging the session id with caller data) and forwards to the
// registry; all delivery semantics live in broadcast.
type ScrapingBroadcaster struct {
	reg *broadcast.Registry
}

// NewScrapingBroadcaster wires the registry.
func NewScrapingBroadcaster(reg *broadcast.Registry) *ScrapingBroadcaster {
	return &ScrapingBroadcaster{reg: reg}
}

// Channel names the feed channel for one session, e.g. "scraping_42".
func (b *ScrapingBroadcaster) Channel(sessionID int64) string {
	return fmt.Sprintf("%s_%d", scrapingPrefix, sessionID)
}

// BroadcastProgress publishes scraped counts plus a computed percentage.
func (b *ScrapingBroadcaster) BroadcastProgress(ctx context.Context, sessionID int64, jobsScraped, totalJobs int) {
	data := map[string]any{
		"session_id":   sessionID,
		"jobs_scraped": jobsScraped,
		"total_jobs":   totalJobs,
	}
	if totalJobs > 0 {
		data["progress"] = float64(jobsScraped) / float64(totalJobs) * 100
	}
	b.reg.Publish(ctx, b.Channel(sessionID), event.KindProgress, data)
}

// BroadcastStatusChange publishes a session status transition.
func (b *ScrapingBroadcaster) BroadcastStatusChange(ctx context.Context, sessionID int64, status string) {
	b.reg.Publish(ctx, b.Channel(sessionID), event.KindStatusChange, map[string]any{
		"session_id": sessionID,
		"status":     status,
	})
}

// BroadcastComplete publishes the terminal event with final counters.
func (b *ScrapingBroadcaster) BroadcastComplete(ctx context.Context, sessionID int64, data map[string]any) {
	b.reg.Publish(ctx, b.Channel(sessionID), event.KindComplete, withID("session_id", sessionID, data))
}

// BroadcastError publishes a failure notice to the session's channel.
func (b *ScrapingBroadcaster) BroadcastError(ctx context.Context, sessionID int64, message string) {
	b.reg.Publish(ctx, b.Channel(sessionID), event.KindError, map[string]any{
		"session_id": sessionID,
		"error":      message,
	})
}

// withID copies data and merges the numeric id field without mutating the
// caller's map.
func withID(key string, id int64, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[key] = id
	return out
}

package feed

import (
	"context"
	"fmt"

	"github.com/avelis/jobfeed/internal/broadcast"
	"github.com/avelis/jobfeed/internal/event"
)

const analysisPrefix = "analysis"

// AnalysisBroadcaster publishes document-analysis events. It mirrors the
// scraping broadcaster but additionally carries result payloads.
type AnalysisBroadcaster struct {
	reg *broadcast.Registry
}

// NewAnalysisBroadcaster wires the registry.
func NewAnalysisBroadcaster(reg *broadcast.Registry) *AnalysisBroadcaster {
	return &AnalysisBroadcaster{reg: reg}
}

// Channel names the feed channel for one analysis, e.g. "analysis_7".
func (b *AnalysisBroadcaster) Channel(analysisID int64) string {
	return fmt.Sprintf("%s_%d", analysisPrefix, analysisID)
}

// BroadcastProgress publishes incremental analysis progress.
func (b *AnalysisBroadcaster) BroadcastProgress(ctx context.Context, analysisID int64, data map[string]any) {
	b.reg.Publish(ctx, b.Channel(analysisID), event.KindProgress, withID("analysis_id", analysisID, data))
}

// BroadcastStatusChange publishes an analysis status transition.
func (b *AnalysisBroadcaster) BroadcastStatusChange(ctx context.Context, analysisID int64, status string) {
	b.reg.Publish(ctx, b.Channel(analysisID), event.KindStatusChange, map[string]any{
		"analysis_id": analysisID,
		"status":      status,
	})
}

// BroadcastComplete publishes the terminal analysis event.
func (b *AnalysisBroadcaster) BroadcastComplete(ctx context.Context, analysisID int64, data map[string]any) {
	b.reg.Publish(ctx, b.Channel(analysisID), event.KindComplete, withID("analysis_id", analysisID, data))
}

// BroadcastError publishes a failure notice to the analysis channel.
func (b *AnalysisBroadcaster) BroadcastError(ctx context.Context, analysisID int64, message string) {
	b.reg.Publish(ctx, b.Channel(analysisID), event.KindError, map[string]any{
		"analysis_id": analysisID,
		"error":       message,
	})
}

// BroadcastResult publishes the analysis output document.
func (b *AnalysisBroadcaster) BroadcastResult(ctx context.Context, analysisID int64, result map[string]any) {
	b.reg.Publish(ctx, b.Channel(analysisID), event.KindResult, withID("analysis_id", analysisID, result))
}

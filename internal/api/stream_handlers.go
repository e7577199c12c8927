package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avelis/jobfeed/internal/broadcast"
	"github.com/avelis/jobfeed/internal/logging"
	"github.com/avelis/jobfeed/internal/store"
)

const lookupTimeout = 3 * time.Second

// streamSession handles GET /v1/sessions/{session_id}/events. It verifies
// the session exists, makes sure a monitor is polling it, and serves the
// live feed until the client goes away.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "session repository unavailable")
		return
	}
	id, err := parseID(r, "session_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	_, err = s.sessions.GetSession(ctx, id)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("load session failed", zap.Int64("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	// The monitor outlives this request on purpose: it stops on a
	// terminal session status, not on client disconnect.
	s.monitor.Watch(id)
	s.serveStream(w, r, s.scraping.Channel(id))
}

// streamAnalysis handles GET /v1/analyses/{analysis_id}/events. Analyses
// have no poller; their producers publish directly.
func (s *Server) streamAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.analyses == nil {
		s.writeError(w, http.StatusServiceUnavailable, "analysis repository unavailable")
		return
	}
	id, err := parseID(r, "analysis_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	_, err = s.analyses.GetAnalysis(ctx, id)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		s.logger.Error("load analysis failed", zap.Int64("analysis_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}

	s.serveStream(w, r, s.analysis.Channel(id))
}

// serveStream attaches a subscription to channel and writes SSE frames
// until the request context is cancelled or the subscription is
// force-disconnected. Cleanup is owned by the stream itself.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, channel string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	logger := logging.ForChannel(s.logger, channel)

	// SSE connections are long-lived; the server's write timeout must not
	// cut them off.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.Warn("could not clear write deadline for stream", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", s.cfg.SSE.CacheControl)
	w.Header().Set("Connection", s.cfg.SSE.Connection)
	w.Header().Set("X-Accel-Buffering", s.cfg.SSE.AccelBuffering)
	w.WriteHeader(http.StatusOK)

	sub := s.registry.Connect(channel)
	frames := broadcast.NewStream(s.registry, sub).Frames(r.Context())
	for frame := range frames {
		if _, err := io.WriteString(w, frame); err != nil {
			logger.Debug("stream write failed, client likely gone", zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

func parseID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		return 0, errors.New(param + " is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + param)
	}
	return id, nil
}

// Package metrics exposes Prometheus collectors for the feed service.
package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	feedSubscribers         *prometheus.GaugeVec
	feedEventsTotal         *prometheus.CounterVec
	feedSlowConsumersTotal  *prometheus.CounterVec
	feedHeartbeatsTotal     prometheus.Counter
	feedStreamsOpenedTotal  *prometheus.CounterVec
	feedMonitorPollsTotal   *prometheus.CounterVec
	feedActiveStreamsByFeed *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		feedSubscribers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "feed_subscribers",
				Help: "Current number of subscribers, labeled by feed.",
			},
			[]string{"feed"},
		)

		feedEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_events_published_total",
				Help: "Total envelopes published, labeled by event kind.",
			},
			[]string{"kind"},
		)

		feedSlowConsumersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_slow_consumers_evicted_total",
				Help: "Subscribers force-disconnected after a publish timeout, labeled by feed.",
			},
			[]string{"feed"},
		)

		feedHeartbeatsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "feed_heartbeats_total",
				Help: "Total keep-alive envelopes enqueued.",
			},
		)

		feedStreamsOpenedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_streams_opened_total",
				Help: "Total subscription streams opened, labeled by feed.",
			},
			[]string{"feed"},
		)

		feedMonitorPollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_monitor_polls_total",
				Help: "Session monitor poll iterations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		feedActiveStreamsByFeed = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "feed_active_streams",
				Help: "Streams currently delivering frames, labeled by feed.",
			},
			[]string{"feed"},
		)
	})
}

// FeedLabel reduces a channel name like "scraping_42" to its feed prefix.
// Channel names carry a numeric id, so the raw name is unusable as a label.
func FeedLabel(channel string) string {
	if i := strings.LastIndex(channel, "_"); i > 0 {
		return channel[:i]
	}
	if channel == "" {
		return "unknown"
	}
	return channel
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SubscriberConnected increments the subscriber gauge for the channel's feed.
func SubscriberConnected(channel string) {
	Init()
	feedSubscribers.WithLabelValues(FeedLabel(channel)).Inc()
}

// SubscriberDisconnected decrements the subscriber gauge.
func SubscriberDisconnected(channel string) {
	Init()
	feedSubscribers.WithLabelValues(FeedLabel(channel)).Dec()
}

// EventPublished counts one published envelope by kind.
func EventPublished(kind string) {
	Init()
	feedEventsTotal.WithLabelValues(kind).Inc()
}

// SlowConsumerEvicted counts a forced disconnect on the channel's feed.
func SlowConsumerEvicted(channel string) {
	Init()
	feedSlowConsumersTotal.WithLabelValues(FeedLabel(channel)).Inc()
}

// HeartbeatSent counts one keep-alive envelope.
func HeartbeatSent() {
	Init()
	feedHeartbeatsTotal.Inc()
}

// StreamOpened counts a new stream and raises the active-stream gauge.
func StreamOpened(channel string) {
	Init()
	feed := FeedLabel(channel)
	feedStreamsOpenedTotal.WithLabelValues(feed).Inc()
	feedActiveStreamsByFeed.WithLabelValues(feed).Inc()
}

// StreamClosed lowers the active-stream gauge.
func StreamClosed(channel string) {
	Init()
	feedActiveStreamsByFeed.WithLabelValues(FeedLabel(channel)).Dec()
}

// MonitorPoll counts one poll iteration with its outcome
// (unchanged, changed, terminal, error).
func MonitorPoll(outcome string) {
	Init()
	feedMonitorPollsTotal.WithLabelValues(outcome).Inc()
}

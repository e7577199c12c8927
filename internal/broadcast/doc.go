// Package broadcast implements the channel-based fan-out layer behind the
// live progress feeds. A Registry maps channel names to subscriber queues,
// delivers published envelopes to every subscriber with a bounded wait, and
// evicts consumers that stall past the publish timeout. Each subscription
// carries its own heartbeat goroutine and is consumed by a Stream that
// renders SSE frames until the client goes away.
package broadcast

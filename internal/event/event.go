// Package event defines the envelope and wire framing for the live
// progress feeds.
package event

import (
	"errors"
	"fmt"
)

// Kind names the type of a feed event. The framing layer treats it as an
// opaque string; consumers must ignore kinds they do not recognize.
type Kind string

// Kinds emitted by the core. Domain packages may define extra kinds.
const (
	KindConnected    Kind = "connected"
	KindHeartbeat    Kind = "heartbeat"
	KindProgress     Kind = "progress"
	KindStatusChange Kind = "status_change"
	KindComplete     Kind = "complete"
	KindError        Kind = "error"
	KindResult       Kind = "result"
)

// Envelope is one discrete event destined for a channel. It is immutable
// once constructed; producers must not mutate Data after publishing.
type Envelope struct {
	// Kind denotes the event type written to the SSE event: field.
	Kind Kind
	// Data is the JSON object written to the SSE data: field.
	Data map[string]any
}

// New builds an Envelope. Data may be nil; it is framed as an empty object.
func New(kind Kind, data map[string]any) Envelope {
	return Envelope{Kind: kind, Data: data}
}

// Validate performs coarse validation on Envelope payloads.
func (e Envelope) Validate() error {
	if e.Kind == "" {
		return errors.New("event kind is required")
	}
	for key := range e.Data {
		if key == "" {
			return fmt.Errorf("event %q has an empty data key", e.Kind)
		}
	}
	return nil
}

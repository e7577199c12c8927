package event

import (
	"encoding/json"
	"fmt"
)

// Format serializes an envelope into one SSE text frame:
//
//	event: <kind>\n
//	data: <json object>\n
//	\n
//
// The data line is a single line; encoding/json never emits raw newlines
// inside a marshalled object. Map keys are marshalled in sorted order, so
// identical payloads always produce identical frames.
func Format(kind Kind, data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode %q event data: %w", kind, err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", kind, payload), nil
}

// Frame formats the envelope itself.
func (e Envelope) Frame() (string, error) {
	return Format(e.Kind, e.Data)
}

package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrEmptyValue = errors.New("empty telemetry value")

// Telemetry is an inbound broker message after payload decoding.
// DeviceHint comes from the wire and is never trusted on its own.
type Telemetry struct {
	Channel    string
	Value      string
	DeviceHint string
	ReceivedAt time.Time
}

// TelemetryPayload is the structured form devices may publish instead of a bare value.
type TelemetryPayload struct {
	DeviceID string `json:"deviceId,omitempty"`
	Value    any    `json:"value"`
}

// ParseTelemetry accepts both `{"deviceId":"d1","value":42}` and plain `42`.
// A payload that looks like JSON but does not parse is taken verbatim.
func ParseTelemetry(channel string, payload []byte, receivedAt time.Time) (Telemetry, error) {
	t := Telemetry{Channel: channel, ReceivedAt: receivedAt}
	trimmed := bytes.TrimSpace(payload)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			t.DeviceHint = rawString(obj["deviceId"])
			raw, ok := obj["value"]
			if !ok || isNull(raw) {
				return t, ErrEmptyValue
			}
			t.Value = rawString(raw)
			if strings.TrimSpace(t.Value) == "" {
				return t, ErrEmptyValue
			}
			return t, nil
		}
	}

	t.Value = string(trimmed)
	if t.Value == "" {
		return t, ErrEmptyValue
	}
	return t, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// rawString renders a JSON value as the string stored in a reading.
func rawString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}

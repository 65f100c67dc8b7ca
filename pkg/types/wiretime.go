package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// The backend emits both offset-qualified timestamps (database columns) and
// naive UTC timestamps (read receipts, announcements).
var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// WireTime decodes any timestamp layout the chat backend produces.
// Naive timestamps are interpreted as UTC.
type WireTime struct {
	time.Time
}

// ParseWireTime parses a backend timestamp string
func ParseWireTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range wireTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (w *WireTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		w.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		w.Time = time.Time{}
		return nil
	}
	t, err := ParseWireTime(s)
	if err != nil {
		return err
	}
	w.Time = t
	return nil
}

func (w WireTime) MarshalJSON() ([]byte, error) {
	if w.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(w.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts the backend's timestamp layouts for Timestamp and ReadAt
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	aux := struct {
		*plain
		Timestamp WireTime  `json:"timestamp"`
		ReadAt    *WireTime `json:"read_at"`
	}{plain: (*plain)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Timestamp = aux.Timestamp.Time
	m.ReadAt = nil
	if aux.ReadAt != nil && !aux.ReadAt.IsZero() {
		t := aux.ReadAt.Time
		m.ReadAt = &t
	}
	return nil
}

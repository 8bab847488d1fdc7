package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DefaultSessionTitle is used whenever a title is missing or blank.
const DefaultSessionTitle = "Untitled Chat"

// SessionDocument is the persisted conversation record, stored both
// per-user and globally.
type SessionDocument struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt float64   `json:"updated_at"` // epoch seconds, recency index score
}

// SessionSummary is a single entry of the "list my sessions" response
type SessionSummary struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	UpdatedAt    float64 `json:"updated_at"`
	MessageCount int     `json:"message_count"`
}

// SessionUpsertRequest is the body of POST /api/sessions
type SessionUpsertRequest struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

// SessionTitleRequest is the body of PATCH /api/sessions/:id/title
type SessionTitleRequest struct {
	Title string `json:"title"`
	Touch bool   `json:"touch"`
}

// NormalizeTitle trims a title and substitutes the default when blank.
func NormalizeTitle(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return DefaultSessionTitle
}

// Message is one role-tagged entry of a session. Only the fields the
// server reasons about are typed; everything else the client sends is
// kept verbatim in Extra and written back unchanged.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
	MapData   json.RawMessage
	Extra     map[string]json.RawMessage
}

var messageKnownFields = []string{"role", "content", "timestamp", "mapData"}

// UnmarshalJSON splits known fields from passthrough ones.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*m = Message{}
	if raw, ok := fields["role"]; ok {
		if err := unmarshalOptionalString(raw, &m.Role); err != nil {
			return err
		}
	}
	if raw, ok := fields["content"]; ok {
		if err := unmarshalOptionalString(raw, &m.Content); err != nil {
			return err
		}
	}
	if raw, ok := fields["timestamp"]; ok {
		if err := m.Timestamp.UnmarshalJSON(raw); err != nil {
			return err
		}
	}
	if raw, ok := fields["mapData"]; ok && !isNull(raw) {
		m.MapData = raw
	}

	for _, k := range messageKnownFields {
		delete(fields, k)
	}
	if len(fields) > 0 {
		m.Extra = fields
	}
	return nil
}

// MarshalJSON merges typed fields back over the passthrough ones.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+len(messageKnownFields))
	for k, v := range m.Extra {
		out[k] = v
	}

	role, err := json.Marshal(m.Role)
	if err != nil {
		return nil, err
	}
	out["role"] = role

	content, err := json.Marshal(m.Content)
	if err != nil {
		return nil, err
	}
	out["content"] = content

	if !m.Timestamp.IsZero() {
		out["timestamp"] = m.Timestamp.raw
	}
	if len(m.MapData) > 0 {
		out["mapData"] = m.MapData
	}
	return json.Marshal(out)
}

// SetExtra marshals v into a passthrough field.
func (m *Message) SetExtra(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if m.Extra == nil {
		m.Extra = make(map[string]json.RawMessage)
	}
	m.Extra[key] = raw
	return nil
}

// GeoJSON returns mapData.geoJsonData when it is present and non-empty.
func (m Message) GeoJSON() (json.RawMessage, bool) {
	if len(m.MapData) == 0 {
		return nil, false
	}
	var md struct {
		GeoJSONData json.RawMessage `json:"geoJsonData"`
	}
	if err := json.Unmarshal(m.MapData, &md); err != nil {
		return nil, false
	}
	if isEmptyJSON(md.GeoJSONData) {
		return nil, false
	}
	return md.GeoJSONData, true
}

// MergeKey identifies a message for de-duplication.
type MergeKey struct {
	Role      string
	Content   string
	Timestamp string
}

// Key returns the (role, content, timestamp) identity of the message.
func (m Message) Key() MergeKey {
	return MergeKey{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp.String()}
}

// Timestamp keeps the client's timestamp in its original JSON form
// (number, ISO-8601 string or absent) so it round-trips exactly.
type Timestamp struct {
	raw json.RawMessage
}

// NewTimestamp renders t the way the server writes message timestamps.
func NewTimestamp(t time.Time) Timestamp {
	raw, _ := json.Marshal(t.UTC().Format("2006-01-02T15:04:05.000000-07:00"))
	return Timestamp{raw: raw}
}

// NumericTimestamp wraps an epoch-seconds timestamp.
func NumericTimestamp(epoch float64) Timestamp {
	return Timestamp{raw: json.RawMessage(strconv.FormatFloat(epoch, 'f', -1, 64))}
}

// StringTimestamp wraps a string timestamp as sent by a client.
func StringTimestamp(s string) Timestamp {
	raw, _ := json.Marshal(s)
	return Timestamp{raw: raw}
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		t.raw = nil
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	t.raw = buf.Bytes()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return t.raw, nil
}

// IsZero reports an absent timestamp.
func (t Timestamp) IsZero() bool {
	return len(t.raw) == 0
}

func (t Timestamp) String() string {
	return string(t.raw)
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Epoch returns the timestamp as epoch seconds for sorting. Numbers are
// taken as-is, ISO-8601 strings are parsed (naive times as UTC), and
// anything else sorts as 0.
func (t Timestamp) Epoch() float64 {
	if t.IsZero() {
		return 0
	}
	var n float64
	if err := json.Unmarshal(t.raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(t.raw, &s); err != nil {
		return 0
	}
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return float64(parsed.UnixNano()) / float64(time.Second)
		}
	}
	return 0
}

func unmarshalOptionalString(raw json.RawMessage, dst *string) error {
	if isNull(raw) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// isEmptyJSON treats null, "", {} and [] as absent.
func isEmptyJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", `""`, "{}", "[]":
		return true
	}
	return false
}

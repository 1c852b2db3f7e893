package matrix

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Event is the generic envelope the dispatcher and room state engine work
// with. Content and PrevContent are kept as raw JSON rather than decoded
// into a concrete struct up front: fold functions only ever need one or two
// fields out of an event whose overall shape varies by type, so scalar
// access goes through gjson/sjson instead of type-asserting into
// map[string]interface{} by hand at every call site.
type Event struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"room_id,omitempty"`
	UserID      string          `json:"user_id"`
	StateKey    *string         `json:"state_key,omitempty"`
	Content     json.RawMessage `json:"content"`
	PrevContent json.RawMessage `json:"prev_content,omitempty"`
	Timestamp   int64           `json:"ts,omitempty"`
	EventID     string          `json:"event_id,omitempty"`
}

// content returns the gjson view of an event's content field, or the zero
// Result if raw is empty/nil — gjson treats that as "not present"
// for every getter, which matches the fold rules' treatment of absence.
func content(raw json.RawMessage) gjson.Result {
	if len(raw) == 0 {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

// str reads a string field out of raw JSON content, returning ok=false if
// the field is absent or not a string.
func str(raw json.RawMessage, field string) (string, bool) {
	r := content(raw).Get(field)
	if !r.Exists() || r.Type != gjson.String {
		return "", false
	}
	return r.String(), true
}

// strList reads a string-array field out of raw JSON content.
func strList(raw json.RawMessage, field string) ([]string, bool) {
	r := content(raw).Get(field)
	if !r.Exists() || !r.IsArray() {
		return nil, false
	}
	out := make([]string, 0, len(r.Array()))
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out, true
}

// intField reads an integer field, returning ok=false if absent or not a
// number.
func intField(raw json.RawMessage, field string) (int, bool) {
	r := content(raw).Get(field)
	if !r.Exists() || r.Type != gjson.Number {
		return 0, false
	}
	return int(r.Int()), true
}

// setField writes a field into raw JSON content, preserving unrelated keys
// already present. Nothing in this package calls it; SetPowerLevel
// builds its body as a plain map.
func setField(raw json.RawMessage, field string, value interface{}) (json.RawMessage, error) {
	base := string(raw)
	if base == "" {
		base = "{}"
	}
	out, err := sjson.Set(base, field, value)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// isAbsentMembership reports whether content normalises to the "absent"
// membership sentinel: an empty content object, or membership=="leave".
func isAbsentMembership(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "{}" || string(raw) == "null" {
		return true
	}
	m, ok := str(raw, "membership")
	if !ok {
		return false
	}
	return m == "leave"
}

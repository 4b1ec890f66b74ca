package segment

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind tags the dynamic type of a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNumber
	KindBool
	KindString
	KindTimestamp
	KindRelativeDate
	KindInvalidRelative
	KindUnsupported
)

var kindNames = map[Kind]string{
	KindAbsent:          "absent",
	KindNumber:          "number",
	KindBool:            "boolean",
	KindString:          "string",
	KindTimestamp:       "timestamp",
	KindRelativeDate:    "relative-date",
	KindInvalidRelative: "invalid-relative-date",
	KindUnsupported:     "unsupported",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// RelativePrefix marks a string value as "N days before now".
const RelativePrefix = "relative_"

// timestampLayouts are tried in order when a string value is tagged.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Value is a tagged scalar. Criterion values are tagged once when a rule set
// is parsed; record values are produced by field accessors.
type Value struct {
	kind Kind
	num  float64
	b    bool
	str  string
	t    time.Time
	// hasTime is set on string values that also parse as a timestamp.
	hasTime bool
	days    int
	raw     json.RawMessage
}

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Timestamp returns a timestamp value.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// String tags a criterion string: relative-date tokens and timestamp-looking
// strings are recognized here so evaluation never re-parses them.
func String(s string) Value {
	if strings.HasPrefix(s, RelativePrefix) {
		suffix := s[len(RelativePrefix):]
		if !isDigits(suffix) {
			return Value{kind: KindInvalidRelative, str: s}
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			return Value{kind: KindInvalidRelative, str: s}
		}
		return Value{kind: KindRelativeDate, str: s, days: n}
	}
	return datedText(s)
}

// datedText is a string that also carries its timestamp when it parses as one.
func datedText(s string) Value {
	v := Value{kind: KindString, str: s}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v.t = t.UTC()
			v.hasTime = true
			break
		}
	}
	return v
}

// text returns a record string without token or timestamp detection.
func text(s string) Value { return Value{kind: KindString, str: s} }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseValue tags a JSON scalar.
func ParseValue(raw json.RawMessage) Value {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Value{kind: KindAbsent}
	}

	var v Value
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			v = Value{kind: KindUnsupported}
			break
		}
		v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			v = Value{kind: KindUnsupported}
			break
		}
		v = Bool(b)
	case 'n':
		v = Value{kind: KindUnsupported}
	case '[', '{':
		v = Value{kind: KindUnsupported}
	default:
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			v = Value{kind: KindUnsupported}
			break
		}
		v = Number(f)
	}
	v.raw = append(json.RawMessage(nil), trimmed...)
	return v
}

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// Days returns N of a relative-date token.
func (v Value) Days() int { return v.days }

// stringLike reports whether v carries string text usable for ordering.
func (v Value) stringLike() (string, bool) {
	switch v.kind {
	case KindString, KindRelativeDate:
		return v.str, true
	}
	return "", false
}

// timeOf returns the instant held by v, if any.
func (v Value) timeOf() (time.Time, bool) {
	switch {
	case v.kind == KindTimestamp:
		return v.t, true
	case v.kind == KindString && v.hasTime:
		return v.t, true
	}
	return time.Time{}, false
}

// Interface returns v as a plain JSON-friendly value. Timestamps render as
// RFC3339 strings; absent and unsupported values are nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindString, KindRelativeDate, KindInvalidRelative:
		return v.str
	case KindTimestamp:
		return v.t.Format(time.RFC3339)
	}
	return nil
}

// Text renders v for substring tests.
func (v Value) Text() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString, KindRelativeDate, KindInvalidRelative:
		return v.str
	case KindTimestamp:
		return v.t.Format(time.RFC3339)
	case KindUnsupported:
		return string(v.raw)
	}
	return ""
}

// MarshalJSON writes the value as it was given, so canonical output
// round-trips legacy input without re-encoding numbers.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) > 0 {
		return v.raw, nil
	}
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindString, KindRelativeDate, KindInvalidRelative:
		return json.Marshal(v.str)
	case KindTimestamp:
		return json.Marshal(v.t)
	}
	return []byte("null"), nil
}

// UnmarshalJSON tags the incoming JSON scalar.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = ParseValue(data)
	return nil
}

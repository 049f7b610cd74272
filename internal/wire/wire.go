// Package wire holds JSON scalar types tolerant of the shapes the chat
// backend emits: timestamps with or without a zone or as epoch
// milliseconds, and identifiers as either numbers or strings.
package wire

import (
	"bytes"
	"errors"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Time is a timestamp. Zoneless values are read as UTC.
type Time struct {
	time.Time
}

// NewTime wraps t.
func NewTime(t time.Time) Time { return Time{Time: t} }

// UnmarshalJSON accepts RFC 3339 strings, zoneless ISO strings, epoch
// milliseconds and null.
func (t *Time) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return err
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return errors.New("wire: unrecognized timestamp " + strconv.Quote(s))
}

// MarshalJSON writes RFC 3339 with milliseconds, or null for the zero time.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))), nil
}

// ID is an identifier the backend may send as a number or a string.
type ID string

// UnmarshalJSON accepts a JSON number, string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		if _, err := strconv.ParseFloat(string(data), 64); err != nil {
			return err
		}
		*id = ID(data)
	}
	return nil
}

// Int64 parses the identifier as a number, returning 0 when it is not one.
func (id ID) Int64() int64 {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (id ID) String() string { return string(id) }

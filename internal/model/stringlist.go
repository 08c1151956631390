package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringList is an ordered list of strings stored as a JSON array. Legacy rows
// (and some API callers) carry a doubly encoded form where the value is a JSON
// string that itself contains the array; both forms decode to the same list.
// Application code only ever sees the decoded []string.
type StringList []string

// Value implements driver.Valuer. The encoded form is always the plain array.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return l.decode(v)
	case string:
		return l.decode([]byte(v))
	default:
		return fmt.Errorf("string list: cannot scan %T", src)
	}
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal([]string(l))
}

func (l *StringList) UnmarshalJSON(b []byte) error {
	return l.decode(b)
}

func (l *StringList) decode(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}

	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*l = arr
		return nil
	}

	// Doubly encoded: a JSON string wrapping the array.
	var inner string
	if err := json.Unmarshal(b, &inner); err == nil {
		inner = strings.TrimSpace(inner)
		if inner == "" {
			*l = nil
			return nil
		}
		if err := json.Unmarshal([]byte(inner), &arr); err != nil {
			return fmt.Errorf("string list: decode inner value %q: %w", inner, err)
		}
		*l = arr
		return nil
	}

	return fmt.Errorf("string list: unsupported encoding %q", string(b))
}

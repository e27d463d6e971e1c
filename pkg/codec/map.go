package codec

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Entry is one key/value pair of a [Map].
type Entry struct {
	Key   string
	Value any
}

// Map is an ordered string-keyed map. Keys are unique; order is insertion
// order and survives encoding.
//
// Lookups are linear. Records are small; buckets index them, not Map.
type Map struct {
	Entries []Entry
}

// MapOf builds a Map from entries. A repeated key overwrites the earlier
// value in place.
func MapOf(entries ...Entry) Map {
	m := Map{Entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		m.Set(e.Key, e.Value)
	}

	return m
}

// Len returns the number of entries.
func (m Map) Len() int { return len(m.Entries) }

// Get returns the value stored under key.
func (m Map) Get(key string) (any, bool) {
	for _, e := range m.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}

	return nil, false
}

// Set stores v under key, keeping the key's position if it already exists.
func (m *Map) Set(key string, v any) {
	for i := range m.Entries {
		if m.Entries[i].Key == key {
			m.Entries[i].Value = v

			return
		}
	}

	m.Entries = append(m.Entries, Entry{Key: key, Value: v})
}

// Delete removes key and reports whether it was present.
func (m *Map) Delete(key string) bool {
	for i := range m.Entries {
		if m.Entries[i].Key == key {
			m.Entries = append(m.Entries[:i], m.Entries[i+1:]...)

			return true
		}
	}

	return false
}

// Keys returns the keys in order.
func (m Map) Keys() []string {
	keys := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		keys[i] = e.Key
	}

	return keys
}

// String returns the string stored under key, or "" if it is absent or not a
// string.
func (m Map) String(key string) string {
	v, _ := m.Get(key)
	s, _ := v.(string)

	return s
}

// Strings returns the string elements of the list stored under key.
// Non-string elements are skipped.
func (m Map) Strings(key string) []string {
	v, _ := m.Get(key)

	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))

		for _, elem := range list {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			}
		}

		return out
	}

	return nil
}

// Int returns the integer stored under key. Numeric strings are accepted,
// since Perforce reports most numbers as text.
func (m Map) Int(key string) (int64, bool) {
	v, _ := m.Get(key)

	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if out, err := strconv.ParseInt(n, 10, 64); err == nil {
			return out, true
		}
	}

	return 0, false
}

// MarshalJSON writes m as a JSON object with keys in order.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, e := range m.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}

		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}

		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}

		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

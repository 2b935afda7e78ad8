package inventory

import (
	"fmt"
	"strconv"
)

// Record is one resource description as returned by the provider.
// The schema belongs to the provider; every accessor tolerates missing
// or mistyped fields and returns the zero value or the given default.
type Record map[string]any

// Get returns the raw value at key, or nil.
func (r Record) Get(key string) any {
	if r == nil {
		return nil
	}
	return r[key]
}

// Has reports whether key is present.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Str returns the string at key, or "".
func (r Record) Str(key string) string {
	return r.StrOr(key, "")
}

// StrOr returns the string at key, or def when absent or not a scalar.
func (r Record) StrOr(key, def string) string {
	switch v := r.Get(key).(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int, int32, int64, bool:
		return fmt.Sprint(v)
	default:
		return def
	}
}

// Int returns the number at key as an int, or 0.
func (r Record) Int(key string) int {
	switch v := r.Get(key).(type) {
	case float64:
		return int(v)
	case float32:
		return int(v)
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// Bool returns the boolean at key, or false.
func (r Record) Bool(key string) bool {
	b, _ := r.Get(key).(bool)
	return b
}

// Map returns the nested object at key, or an empty record.
func (r Record) Map(key string) Record {
	return asRecord(r.Get(key))
}

// Records returns the list of objects at key. Non-object items are skipped.
func (r Record) Records(key string) []Record {
	return AsRecords(r.Get(key))
}

// Strings returns the list of strings at key.
func (r Record) Strings(key string) []string {
	var out []string
	switch v := r.Get(key).(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Path walks nested objects and returns the string at the final key.
func (r Record) Path(keys ...string) string {
	cur := r
	for i, k := range keys {
		if i == len(keys)-1 {
			return cur.Str(k)
		}
		cur = cur.Map(k)
	}
	return ""
}

// Tags converts an AWS style [{Key, Value}] list at key into a map.
func (r Record) Tags(key string) map[string]string {
	tags := make(map[string]string)
	for _, t := range r.Records(key) {
		if k := t.Str("Key"); k != "" {
			tags[k] = t.Str("Value")
		}
	}
	return tags
}

// AsRecords converts a decoded JSON list (or a typed slice) into records.
func AsRecords(v any) []Record {
	var out []Record
	switch items := v.(type) {
	case []Record:
		out = append(out, items...)
	case []map[string]any:
		for _, m := range items {
			out = append(out, Record(m))
		}
	case []any:
		for _, item := range items {
			if rec := asRecord(item); rec != nil {
				out = append(out, rec)
			}
		}
	}
	return out
}

func asRecord(v any) Record {
	switch m := v.(type) {
	case Record:
		return m
	case map[string]any:
		return Record(m)
	default:
		return nil
	}
}

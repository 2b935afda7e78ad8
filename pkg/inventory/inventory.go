package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of collecting one category: either data keyed by
// subtype, or the reason collection failed.
type Result struct {
	Data map[Subtype][]Record
	Err  string
}

// Success wraps collected data.
func Success(data map[Subtype][]Record) Result {
	if data == nil {
		data = make(map[Subtype][]Record)
	}
	return Result{Data: data}
}

// Failure records a collection error.
func Failure(err error) Result {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Result{Err: msg}
}

// OK reports whether the category was collected.
func (r Result) OK() bool {
	return r.Err == ""
}

// Count returns the total number of records across subtypes.
func (r Result) Count() int {
	n := 0
	for _, recs := range r.Data {
		n += len(recs)
	}
	return n
}

// MarshalJSON renders failures as {"error": msg} and successes as
// {subtype: [records]}.
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.OK() {
		return json.Marshal(map[string]string{"error": r.Err})
	}
	if r.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Data)
}

// UnmarshalJSON reverses MarshalJSON.
func (r *Result) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if msg, ok := raw["error"]; ok && len(raw) == 1 {
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			*r = Result{Err: s}
			return nil
		}
	}
	data := make(map[Subtype][]Record, len(raw))
	for k, v := range raw {
		var recs []Record
		if err := json.Unmarshal(v, &recs); err != nil {
			return fmt.Errorf("decode subtype %s: %w", k, err)
		}
		data[Subtype(k)] = recs
	}
	*r = Result{Data: data}
	return nil
}

// RawResourceSet maps each collected category to its result.
type RawResourceSet map[Category]Result

// ErrNoData is returned by lookups on an empty set.
var ErrNoData = errors.New("no inventory collected")

// Categories returns the categories present, in canonical order.
func (s RawResourceSet) Categories() []Category {
	cats := make([]Category, 0, len(s))
	for c := range s {
		cats = append(cats, c)
	}
	return Sorted(cats)
}

// Records returns the records of one subtype. Missing categories, failed
// categories and missing subtypes all yield nil.
func (s RawResourceSet) Records(c Category, sub Subtype) []Record {
	res, ok := s[c]
	if !ok || !res.OK() {
		return nil
	}
	return res.Data[sub]
}

// Failed returns the categories whose collection failed, in canonical order.
func (s RawResourceSet) Failed() []Category {
	var out []Category
	for _, c := range s.Categories() {
		if !s[c].OK() {
			out = append(out, c)
		}
	}
	return out
}

// Documents renders one text document per category, in canonical order,
// for use as language model context.
func (s RawResourceSet) Documents() []string {
	docs := make([]string, 0, len(s))
	for _, c := range s.Categories() {
		body, err := json.MarshalIndent(s[c], "", "  ")
		if err != nil {
			body = []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
		}
		docs = append(docs, fmt.Sprintf("AWS %s Information:\n%s", c, body))
	}
	return docs
}

// Normalize converts time values anywhere inside v into ISO-8601 strings so
// that the value is JSON-safe. Maps and slices are rewritten in place.
func Normalize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339)
	case Record:
		for k, item := range t {
			t[k] = Normalize(item)
		}
		return t
	case map[string]any:
		for k, item := range t {
			t[k] = Normalize(item)
		}
		return t
	case []Record:
		for i := range t {
			Normalize(t[i])
		}
		return t
	case []map[string]any:
		for i := range t {
			Normalize(t[i])
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = Normalize(item)
		}
		return t
	default:
		return v
	}
}

// NormalizeResult normalizes every record of a result in place.
func NormalizeResult(r Result) Result {
	for _, recs := range r.Data {
		for _, rec := range recs {
			Normalize(rec)
		}
	}
	return r
}

// Summary returns "EC2: 12 records, IAM: error (...)" style text.
func (s RawResourceSet) Summary() string {
	parts := make([]string, 0, len(s))
	for _, c := range s.Categories() {
		res := s[c]
		if !res.OK() {
			parts = append(parts, fmt.Sprintf("%s: error (%s)", c, res.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %d records", c, res.Count()))
	}
	return strings.Join(parts, ", ")
}

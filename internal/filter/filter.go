// Package filter provides category and tag filtering of collected inventory.
package filter

import (
	"github.com/yairfalse/skyquery/pkg/inventory"
)

// Filter controls which categories are collected and which records are kept.
type Filter struct {
	excludeCategories map[inventory.Category]bool
	includeTags       map[string]string
	excludeTags       map[string]string
}

// New creates a new Filter. Category names are matched case-insensitively;
// unknown names are ignored.
func New(excludeCategories []string, includeTags, excludeTags map[string]string) *Filter {
	excludeMap := make(map[inventory.Category]bool)
	for _, name := range excludeCategories {
		if c, ok := inventory.Parse(name); ok {
			excludeMap[c] = true
		}
	}

	return &Filter{
		excludeCategories: excludeMap,
		includeTags:       includeTags,
		excludeTags:       excludeTags,
	}
}

// ShouldCollect returns true if the category should be collected.
func (f *Filter) ShouldCollect(c inventory.Category) bool {
	if f == nil {
		return true
	}
	return !f.excludeCategories[c]
}

// ShouldIncludeRecord returns true if the record passes tag filters.
func (f *Filter) ShouldIncludeRecord(r inventory.Record) bool {
	if f == nil {
		return true
	}
	labels := RecordTags(r)

	// Check include tags (whitelist) - ALL must match
	for k, v := range f.includeTags {
		if labels[k] != v {
			return false
		}
	}

	// Check exclude tags (blacklist) - ANY match excludes
	for k, v := range f.excludeTags {
		if got, ok := labels[k]; ok && got == v {
			return false
		}
	}

	return true
}

// FilterRecords returns only records that pass the filter. EC2 reservations
// are filtered by their instances and dropped when none remain.
func (f *Filter) FilterRecords(sub inventory.Subtype, records []inventory.Record) []inventory.Record {
	if f.IsEmpty() {
		return records
	}

	filtered := make([]inventory.Record, 0, len(records))
	for _, r := range records {
		if sub == inventory.Instances && r.Has("Instances") {
			if kept := f.filterReservation(r); kept != nil {
				filtered = append(filtered, kept)
			}
			continue
		}
		if f.ShouldIncludeRecord(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func (f *Filter) filterReservation(r inventory.Record) inventory.Record {
	var instances []any
	for _, inst := range r.Records("Instances") {
		if f.ShouldIncludeRecord(inst) {
			instances = append(instances, map[string]any(inst))
		}
	}
	if len(instances) == 0 {
		return nil
	}
	out := make(inventory.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	out["Instances"] = instances
	return out
}

// IsEmpty returns true if no tag filters are configured.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.includeTags) == 0 && len(f.excludeTags) == 0)
}

// RecordTags extracts tags from the common AWS shapes: a [{Key, Value}]
// list under "Tags" or "TagList", or a plain map under "Tags".
func RecordTags(r inventory.Record) map[string]string {
	if m, ok := r.Get("Tags").(map[string]any); ok {
		tags := make(map[string]string, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				tags[k] = s
			}
		}
		return tags
	}
	if r.Has("TagList") {
		return r.Tags("TagList")
	}
	return r.Tags("Tags")
}

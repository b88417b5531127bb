// Package model holds the data types shared across kmemory's ingestion and
// retrieval subsystems: memory records, tag collections, and pipeline state.
package model

import "strings"

// ReservedTags are the tag keys every MemoryRecord must carry so that
// cascade deletion (DeleteDocument) can find every record belonging to a
// document or file without a secondary index.
const (
	TagDocumentID   = "document_id"
	TagFileID       = "file_id"
	TagPartNumber   = "part_number"
	TagSectionNumber = "section_number"
)

// TagCollection is a multimap from tag key to one or more values. A tag key
// is present in the collection iff it has at least one non-empty value list.
type TagCollection map[string][]string

// NewTagCollection returns an empty, ready-to-use TagCollection.
func NewTagCollection() TagCollection {
	return make(TagCollection)
}

// Add appends a value under key, creating the key if absent.
func (t TagCollection) Add(key, value string) {
	t[key] = append(t[key], value)
}

// Set replaces all values under key with a single value.
func (t TagCollection) Set(key, value string) {
	t[key] = []string{value}
}

// Has reports whether key carries value among its values.
func (t TagCollection) Has(key, value string) bool {
	for _, v := range t[key] {
		if v == value {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the collection.
func (t TagCollection) Clone() TagCollection {
	out := make(TagCollection, len(t))
	for k, vs := range t {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

// Merge returns a new collection containing the union of t and other; on key
// collision, values from both sides are concatenated.
func (t TagCollection) Merge(other TagCollection) TagCollection {
	out := t.Clone()
	for k, vs := range other {
		out[k] = append(out[k], vs...)
	}
	return out
}

// EscapeTagValue escapes the reserved separator characters (':' and '=')
// used by backends that serialize tags as "key:value" strings.
func EscapeTagValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, ":", `\:`, "=", `\=`)
	return r.Replace(v)
}

// UnescapeTagValue reverses EscapeTagValue.
func UnescapeTagValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
			b.WriteByte(v[i])
			continue
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

// MemoryFilter is one AND-conjunction of (key, value) equality clauses.
// A record matches a filter iff every clause matches one of the record's
// tag values for that key.
type MemoryFilter map[string][]string

// NewMemoryFilter returns an empty filter ready for AddEquals calls.
func NewMemoryFilter() MemoryFilter {
	return make(MemoryFilter)
}

// AddEquals adds an equality clause on key for value (ORed with any other
// values already added under the same key within this conjunction — this
// mirrors the source library's "or values, and keys" filter builder).
func (f MemoryFilter) AddEquals(key, value string) MemoryFilter {
	f[key] = append(f[key], value)
	return f
}

// IsEmpty reports whether the filter has no clauses.
func (f MemoryFilter) IsEmpty() bool {
	return len(f) == 0
}

// Matches reports whether tags satisfies every clause in f: for each key in
// f, at least one of f[key]'s values must appear in tags[key].
func (f MemoryFilter) Matches(tags TagCollection) bool {
	for key, wanted := range f {
		if len(wanted) == 0 {
			continue
		}
		have := tags[key]
		if !anyIntersect(wanted, have) {
			return false
		}
	}
	return true
}

func anyIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// MatchesAny reports whether tags satisfies at least one conjunction in the
// filter list (DNF semantics, §4.3). An empty filter list accepts every
// record; empty filters within the list are ignored (they would otherwise
// vacuously match everything, defeating the other conjunctions' intent).
func MatchesAny(filters []MemoryFilter, tags TagCollection) bool {
	if len(filters) == 0 {
		return true
	}
	any := false
	for _, f := range filters {
		if f.IsEmpty() {
			continue
		}
		any = true
		if f.Matches(tags) {
			return true
		}
	}
	return !any
}

// MemoryRecord is the unit of retrievable knowledge: a vector, its tags, and
// an opaque payload.
type MemoryRecord struct {
	ID      string
	Vector  []float32
	Tags    TagCollection
	Payload map[string]string
}

// CurrentSchemaVersion is stamped into every record's payload at creation.
const CurrentSchemaVersion = "2"

// UpgradeSchema defaults missing payload fields introduced by later schema
// versions so callers reading old records see a complete payload.
func UpgradeSchema(r *MemoryRecord) {
	if r.Payload == nil {
		r.Payload = map[string]string{}
	}
	version := r.Payload["schema_version"]
	if version == "" {
		version = "1"
	}
	if _, ok := r.Payload["source_url"]; !ok {
		r.Payload["source_url"] = ""
	}
	if _, ok := r.Payload["timestamp"]; !ok {
		r.Payload["timestamp"] = ""
	}
	r.Payload["schema_version"] = CurrentSchemaVersion
}

// DocumentID returns the record's document_id tag, or "" if absent.
func (r *MemoryRecord) DocumentID() string {
	if len(r.Tags[TagDocumentID]) == 0 {
		return ""
	}
	return r.Tags[TagDocumentID][0]
}

package fieldpath

import "sort"

// FieldValue pairs a fully resolved Field with its leaf payload.
type FieldValue struct {
	Field *Field
	Value Value
}

// FieldValueMap is an ordered multimap from Field to leaf Value. Iteration
// order is Field order regardless of insertion order. A fully resolved
// Field holds at most one value; multiple entries only arise from
// differing repetition indices inside an otherwise-equal prefix.
type FieldValueMap struct {
	entries []FieldValue
}

// NewFieldValueMap returns an empty map.
func NewFieldValueMap() *FieldValueMap {
	return &FieldValueMap{}
}

// Insert stores value under a deep copy of field, keeping entries sorted.
// Inserting an already-present resolved Field replaces its value.
func (m *FieldValueMap) Insert(field *Field, value Value) {
	if field == nil {
		return
	}
	key := field.Clone()
	i := sort.Search(len(m.entries), func(i int) bool {
		return Compare(m.entries[i].Field, key) >= 0
	})
	if i < len(m.entries) && Equal(m.entries[i].Field, key) {
		m.entries[i].Value = value
		return
	}
	m.entries = append(m.entries, FieldValue{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = FieldValue{Field: key, Value: value}
}

// Len returns the number of entries.
func (m *FieldValueMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries exposes the sorted entry slice. Callers must not mutate it.
func (m *FieldValueMap) Entries() []FieldValue {
	if m == nil {
		return nil
	}
	return m.entries
}

// Get returns the value stored under a resolved field.
func (m *FieldValueMap) Get(field *Field) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	for _, e := range m.entries {
		if Equal(e.Field, field) {
			return e.Value, true
		}
	}
	return Value{}, false
}

// LeafMatches collects the entries that fully resolve query, treating
// unset query indices as wildcards.
func (m *FieldValueMap) LeafMatches(query *Field) []FieldValue {
	var out []FieldValue
	for _, e := range m.entries {
		if matchesLeaf(e.Field, query) {
			out = append(out, e)
		}
	}
	return out
}

// indexesAt returns the distinct repetition indices observed at the
// deepest level of prefix, ascending. The prefix's own leaf index is
// ignored so a position selector can probe before pinning it.
func (m *FieldValueMap) indexesAt(prefix *Field) []int32 {
	depth := prefix.Depth() - 1
	probe := prefix.Clone()
	probe.Leaf().Index = IndexUnset

	seen := make(map[int32]struct{})
	var out []int32
	for _, e := range m.entries {
		if !hasPrefix(e.Field, probe) {
			continue
		}
		idx := indexAtDepth(e.Field, depth)
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// retain drops every entry for which keep returns false.
func (m *FieldValueMap) retain(keep func(*Field) bool) {
	filtered := m.entries[:0]
	for _, e := range m.entries {
		if keep(e.Field) {
			filtered = append(filtered, e)
		}
	}
	for i := len(filtered); i < len(m.entries); i++ {
		m.entries[i] = FieldValue{}
	}
	m.entries = filtered
}

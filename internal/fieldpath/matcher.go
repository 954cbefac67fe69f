package fieldpath

import "log/slog"

// Position selects which occurrence of a repeated field a matcher level
// applies to.
type Position int

// Position selectors. PositionNone leaves the index unconstrained.
const (
	PositionNone Position = iota
	PositionFirst
	PositionLast
	PositionAny
)

// Matcher is a declarative selector mirroring the Field tree shape. A
// node may carry zero children (leaf selection), one child (drill-down),
// or several children (sibling selections at the same level).
type Matcher struct {
	Tag      int32
	Pos      Position
	Children []*Matcher
}

// FindFields returns every Field key in m selected by matcher. A missing
// root tag or an empty map yields no matches rather than an error.
func FindFields(m *FieldValueMap, matcher *Matcher) []*Field {
	if m == nil || m.Len() == 0 || matcher == nil || matcher.Tag == 0 {
		return nil
	}
	root := NewField(matcher.Tag)
	var out []*Field
	walkMatcher(m, matcher, root, root, func(entry FieldValue) {
		out = append(out, entry.Field.Clone())
	})
	return out
}

// Filter removes, in place, every entry of m that matcher does not select.
func Filter(matcher *Matcher, m *FieldValueMap) {
	if m == nil || m.Len() == 0 {
		return
	}
	kept := FindFields(m, matcher)
	m.retain(func(f *Field) bool {
		for _, k := range kept {
			if Equal(k, f) {
				return true
			}
		}
		return false
	})
}

// walkMatcher descends matcher and the chain being built in lockstep.
// level is the chain node standing in for matcher; sink receives every
// resolved leaf entry the matcher selects.
func walkMatcher(m *FieldValueMap, matcher *Matcher, root, level *Field, sink func(FieldValue)) {
	switch matcher.Pos {
	case PositionFirst:
		level.Index = 0
		descendMatcher(m, matcher, root, level, sink)
		level.Index = IndexUnset
	case PositionLast:
		idxs := m.indexesAt(chainTo(root, level))
		if len(idxs) == 0 {
			return
		}
		level.Index = idxs[len(idxs)-1]
		descendMatcher(m, matcher, root, level, sink)
		level.Index = IndexUnset
	case PositionAny:
		for _, idx := range m.indexesAt(chainTo(root, level)) {
			level.Index = idx
			descendMatcher(m, matcher, root, level, sink)
		}
		level.Index = IndexUnset
	default:
		descendMatcher(m, matcher, root, level, sink)
	}
}

func descendMatcher(m *FieldValueMap, matcher *Matcher, root, level *Field, sink func(FieldValue)) {
	if len(matcher.Children) == 0 {
		matches := m.LeafMatches(root)
		if len(matches) == 0 {
			return
		}
		if len(matches) > 1 {
			// A singular field resolved to several occurrences; the
			// config should have pinned a position here.
			slog.Error("ambiguous match for singular field", slog.String("field", root.String()))
			return
		}
		sink(matches[0])
		return
	}
	for _, child := range matcher.Children {
		level.Child = &Field{Tag: child.Tag, Index: IndexUnset}
		walkMatcher(m, child, root, level.Child, sink)
		level.Child = nil
	}
}

// ObservedIndexes returns the distinct repetition indices present in m at
// the chain level the matcher traversal is currently resolving. root must
// be the chain being built and level one of its nodes.
func ObservedIndexes(m *FieldValueMap, root, level *Field) []int32 {
	return m.indexesAt(chainTo(root, level))
}

// chainTo returns the prefix of root ending at level. level is always a
// node of root's chain, so this is a truncating copy.
func chainTo(root, level *Field) *Field {
	prefix := &Field{Tag: root.Tag, Index: root.Index}
	src, dst := root, prefix
	for src != level && src.Child != nil {
		src = src.Child
		dst.Child = &Field{Tag: src.Tag, Index: src.Index}
		dst = dst.Child
	}
	return prefix
}

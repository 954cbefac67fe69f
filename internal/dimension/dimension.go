// Package dimension builds hierarchical dimension values out of flattened
// atoms. It layers value extraction on top of the fieldpath matcher: where
// fieldpath selects Field keys, this package assembles the matched leaf
// payloads into DimensionsValue trees that key tracked metric series.
package dimension

import (
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-anomaly/internal/fieldpath"
)

// DimensionsValue is one extracted dimension node: either a leaf payload
// or a tuple of child nodes, each tagged with its originating field
// number. At most one of Leaf and Tuple is set; neither set means the
// node carries nothing.
type DimensionsValue struct {
	Tag   int32
	Leaf  *fieldpath.Value
	Tuple []*DimensionsValue
}

// Clone deep-copies the tree.
func (d *DimensionsValue) Clone() *DimensionsValue {
	if d == nil {
		return nil
	}
	out := &DimensionsValue{Tag: d.Tag}
	if d.Leaf != nil {
		leaf := *d.Leaf
		out.Leaf = &leaf
	}
	for _, c := range d.Tuple {
		out.Tuple = append(out.Tuple, c.Clone())
	}
	return out
}

// String flattens the tree canonically: "tag:value" for leaves and
// "tag:{a|b|...}" for tuples. Children render in stored order, so equal
// trees built in the same matcher order always render identically. The
// result is the hash key for dimension maps.
func (d *DimensionsValue) String() string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	d.render(&b)
	return b.String()
}

func (d *DimensionsValue) render(b *strings.Builder) {
	b.WriteString(itoa(d.Tag))
	b.WriteByte(':')
	if d.Leaf != nil {
		b.WriteString(d.Leaf.String())
		return
	}
	b.WriteByte('{')
	for i, c := range d.Tuple {
		if i > 0 {
			b.WriteByte('|')
		}
		c.render(b)
	}
	b.WriteByte('}')
}

func itoa(v int32) string {
	if v == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	neg := v < 0
	if neg {
		v = -v
	}
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Find extracts the dimension trees matcher selects out of m. Position
// ANY at a repeated field fans the result out: each observed index yields
// an independent copy of the tree built so far, so N distinct indices
// produce N trees. A matcher branch that matches nothing is simply
// absent from the output rather than an error.
func Find(m *fieldpath.FieldValueMap, matcher *fieldpath.Matcher) []*DimensionsValue {
	if m == nil || m.Len() == 0 || matcher == nil || matcher.Tag == 0 {
		return nil
	}
	root := fieldpath.NewField(matcher.Tag)
	return variants(m, matcher, root, root)
}

// variants returns every subtree the matcher node can produce for the
// chain built so far. One entry per fan-out branch.
func variants(m *fieldpath.FieldValueMap, matcher *fieldpath.Matcher, root, level *fieldpath.Field) []*DimensionsValue {
	switch matcher.Pos {
	case fieldpath.PositionFirst:
		level.Index = 0
		defer func() { level.Index = fieldpath.IndexUnset }()
		return resolve(m, matcher, root, level)
	case fieldpath.PositionLast:
		idxs := observedIndexes(m, root, level)
		if len(idxs) == 0 {
			return nil
		}
		level.Index = idxs[len(idxs)-1]
		defer func() { level.Index = fieldpath.IndexUnset }()
		return resolve(m, matcher, root, level)
	case fieldpath.PositionAny:
		var out []*DimensionsValue
		for _, idx := range observedIndexes(m, root, level) {
			level.Index = idx
			out = append(out, resolve(m, matcher, root, level)...)
		}
		level.Index = fieldpath.IndexUnset
		return out
	default:
		return resolve(m, matcher, root, level)
	}
}

func resolve(m *fieldpath.FieldValueMap, matcher *fieldpath.Matcher, root, level *fieldpath.Field) []*DimensionsValue {
	if len(matcher.Children) == 0 {
		value, ok := singleLeaf(m, root)
		if !ok {
			return nil
		}
		return []*DimensionsValue{{Tag: matcher.Tag, Leaf: &value}}
	}

	acc := []*DimensionsValue{{Tag: matcher.Tag}}
	for _, child := range matcher.Children {
		level.Child = &fieldpath.Field{Tag: child.Tag, Index: fieldpath.IndexUnset}
		subs := variants(m, child, root, level.Child)
		level.Child = nil
		switch len(subs) {
		case 0:
			// Unmatched branch: the child is absent from the tree.
		case 1:
			for _, tree := range acc {
				attach(tree, subs[0].Clone())
			}
		default:
			var next []*DimensionsValue
			for _, tree := range acc {
				for _, sub := range subs {
					grown := tree.Clone()
					attach(grown, sub.Clone())
					next = append(next, grown)
				}
			}
			acc = next
		}
	}

	var out []*DimensionsValue
	for _, tree := range acc {
		if len(tree.Tuple) > 0 {
			out = append(out, tree)
		}
	}
	return out
}

// attach inserts sub into tree's tuple, reusing an existing tuple child
// with the same field number instead of creating a sibling.
func attach(tree, sub *DimensionsValue) {
	if sub.Leaf == nil {
		for _, c := range tree.Tuple {
			if c.Tag == sub.Tag && c.Leaf == nil {
				for _, sc := range sub.Tuple {
					attach(c, sc)
				}
				return
			}
		}
	}
	tree.Tuple = append(tree.Tuple, sub)
}

func singleLeaf(m *fieldpath.FieldValueMap, query *fieldpath.Field) (fieldpath.Value, bool) {
	matches := m.LeafMatches(query)
	if len(matches) == 0 {
		return fieldpath.Value{}, false
	}
	if len(matches) > 1 {
		// A singular field resolved to several occurrences; the config
		// should have pinned a position on the repeated level.
		slog.Error("ambiguous match for singular field", slog.String("field", query.String()))
		return fieldpath.Value{}, false
	}
	return matches[0].Value, true
}

func observedIndexes(m *fieldpath.FieldValueMap, root, level *fieldpath.Field) []int32 {
	return fieldpath.ObservedIndexes(m, root, level)
}

// IsSubDimension reports whether sub embeds into whole: tags and value
// cases must agree at the root, leaf payloads must be equal, and every
// tuple child of sub must find some child of whole it embeds into.
func IsSubDimension(whole, sub *DimensionsValue) bool {
	if whole == nil || sub == nil {
		return false
	}
	if whole.Tag != sub.Tag {
		return false
	}
	if (whole.Leaf == nil) != (sub.Leaf == nil) {
		return false
	}
	if sub.Leaf != nil {
		return whole.Leaf.Equal(*sub.Leaf)
	}
	for _, sc := range sub.Tuple {
		matched := false
		for _, wc := range whole.Tuple {
			if IsSubDimension(wc, sc) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Sub projects dim down to the parts matcher names. The projection is
// conjunctive: every matcher branch must resolve against dim, and a
// single missing field or a leaf/tuple shape mismatch invalidates the
// whole result.
func Sub(dim *DimensionsValue, matcher *fieldpath.Matcher) (*DimensionsValue, bool) {
	if dim == nil || matcher == nil || dim.Tag != matcher.Tag {
		return nil, false
	}
	if len(matcher.Children) == 0 {
		if dim.Leaf == nil {
			return nil, false
		}
		leaf := *dim.Leaf
		return &DimensionsValue{Tag: dim.Tag, Leaf: &leaf}, true
	}
	if dim.Leaf != nil {
		return nil, false
	}

	out := &DimensionsValue{Tag: dim.Tag}
	for _, child := range matcher.Children {
		matched := false
		for _, dc := range dim.Tuple {
			if sub, ok := Sub(dc, child); ok {
				out.Tuple = append(out.Tuple, sub)
				matched = true
				break
			}
		}
		if !matched {
			slog.Debug("sub-dimension projection failed",
				slog.Int("parent_tag", int(dim.Tag)), slog.Int("missing_tag", int(child.Tag)))
			return nil, false
		}
	}
	return out, true
}

package fieldpath

import "strconv"

// IndexUnset marks a repetition index that has not been pinned to a
// concrete occurrence of a repeated field.
const IndexUnset int32 = -1

// Field addresses one leaf inside a flattened atom. A Field is a
// single-branch chain: every level carries a numeric tag, an optional
// repetition index, and at most one child. The chain shape is structural,
// so a level can never grow a second branch.
type Field struct {
	Tag   int32
	Index int32
	Child *Field
}

// NewField returns a single-level chain with an unset repetition index.
func NewField(tag int32) *Field {
	return &Field{Tag: tag, Index: IndexUnset}
}

// Leaf returns the deepest level of the chain.
func (f *Field) Leaf() *Field {
	cur := f
	for cur.Child != nil {
		cur = cur.Child
	}
	return cur
}

// Append adds one level below the current leaf and returns the new level.
func (f *Field) Append(tag int32) *Field {
	leaf := f.Leaf()
	leaf.Child = &Field{Tag: tag, Index: IndexUnset}
	return leaf.Child
}

// Depth counts the levels of the chain.
func (f *Field) Depth() int {
	depth := 0
	for cur := f; cur != nil; cur = cur.Child {
		depth++
	}
	return depth
}

// Clone deep-copies the chain.
func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	return &Field{Tag: f.Tag, Index: f.Index, Child: f.Child.Clone()}
}

// String renders the chain as "tag[index].child" for logs and map keys.
func (f *Field) String() string {
	if f == nil {
		return ""
	}
	out := strconv.FormatInt(int64(f.Tag), 10)
	if f.Index != IndexUnset {
		out += "[" + strconv.FormatInt(int64(f.Index), 10) + "]"
	}
	if f.Child != nil {
		out += "." + f.Child.String()
	}
	return out
}

// Compare imposes the total order used wherever Fields key an ordered
// container: by tag, then repetition index, then child count, then
// recursively by the sole child. A nil chain sorts before everything else.
func Compare(a, b *Field) int {
	if a == nil || b == nil {
		switch {
		case a == b:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if a.Tag != b.Tag {
		if a.Tag < b.Tag {
			return -1
		}
		return 1
	}
	if a.Index != b.Index {
		if a.Index < b.Index {
			return -1
		}
		return 1
	}
	return Compare(a.Child, b.Child)
}

// Less reports whether a sorts before b.
func Less(a, b *Field) bool { return Compare(a, b) < 0 }

// Equal reports whether both chains match level for level.
func Equal(a, b *Field) bool { return Compare(a, b) == 0 }

// IsAttributionUIDField recognises the well-known attribution shape: an
// outer field whose child and grandchild both carry tag 1 with nothing
// below. Such leaves hold the uid of an attribution chain node.
func IsAttributionUIDField(f *Field) bool {
	return f != nil &&
		f.Child != nil && f.Child.Tag == 1 &&
		f.Child.Child != nil && f.Child.Child.Tag == 1 &&
		f.Child.Child.Child == nil
}

// hasPrefix reports whether the first levels of entry match query. An
// unset query index matches any index at that level; tags must match
// exactly. The entry chain may continue below the query chain.
func hasPrefix(entry, query *Field) bool {
	for query != nil {
		if entry == nil || entry.Tag != query.Tag {
			return false
		}
		if query.Index != IndexUnset && entry.Index != query.Index {
			return false
		}
		entry = entry.Child
		query = query.Child
	}
	return true
}

// matchesLeaf reports whether entry resolves query completely: same depth,
// same tags, and concrete indices wherever the query pins one.
func matchesLeaf(entry, query *Field) bool {
	for query != nil {
		if entry == nil || entry.Tag != query.Tag {
			return false
		}
		if query.Index != IndexUnset && entry.Index != query.Index {
			return false
		}
		entry = entry.Child
		query = query.Child
	}
	return entry == nil
}

// indexAtDepth returns the repetition index of the chain level at the
// given zero-based depth, or IndexUnset when the chain is shorter.
func indexAtDepth(f *Field, depth int) int32 {
	cur := f
	for i := 0; i < depth && cur != nil; i++ {
		cur = cur.Child
	}
	if cur == nil {
		return IndexUnset
	}
	return cur.Index
}

package fieldpath

import "strconv"

// ValueKind discriminates the leaf payload stored for a Field.
type ValueKind int

// Leaf payload kinds. ValueNone is the zero value and marks an unset leaf.
const (
	ValueNone ValueKind = iota
	ValueString
	ValueInt
	ValueLong
	ValueBool
	ValueFloat
)

// Value is the tagged-union leaf payload of a flattened atom field.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int32
	Long  int64
	Bool  bool
	Float float32
}

// StringValue wraps a string leaf.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// IntValue wraps an int32 leaf.
func IntValue(i int32) Value { return Value{Kind: ValueInt, Int: i} }

// LongValue wraps an int64 leaf.
func LongValue(l int64) Value { return Value{Kind: ValueLong, Long: l} }

// BoolValue wraps a bool leaf.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// FloatValue wraps a float32 leaf.
func FloatValue(f float32) Value { return Value{Kind: ValueFloat, Float: f} }

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueString:
		return v.Str == o.Str
	case ValueInt:
		return v.Int == o.Int
	case ValueLong:
		return v.Long == o.Long
	case ValueBool:
		return v.Bool == o.Bool
	case ValueFloat:
		return v.Float == o.Float
	default:
		return true
	}
}

// String renders the payload canonically; equal values always render the
// same text, which keeps dimension keys stable.
func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case ValueLong:
		return strconv.FormatInt(v.Long, 10)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueFloat:
		return strconv.FormatFloat(float64(v.Float), 'g', -1, 32)
	default:
		return ""
	}
}

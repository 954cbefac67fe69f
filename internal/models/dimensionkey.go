package models

import "github.com/miradorstack/mirador-anomaly/internal/dimension"

// DimensionKey identifies one independently tracked series: the
// canonical rendering of the dimension in what, plus the condition
// dimension when the alert's predicate is sliced too. The canonical
// strings come from DimensionsValue.String, which is stable for equal
// trees, so the key is safe to use as a map key.
type DimensionKey struct {
	What      string
	Condition string
}

// NewDimensionKey derives a key from extracted dimension trees. Either
// tree may be nil.
func NewDimensionKey(what, condition *dimension.DimensionsValue) DimensionKey {
	return DimensionKey{What: what.String(), Condition: condition.String()}
}

func (k DimensionKey) String() string {
	if k.Condition == "" {
		return k.What
	}
	return k.What + "#" + k.Condition
}

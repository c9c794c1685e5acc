package query

import "go.mongodb.org/mongo-driver/bson"

// Direction of a sort key.
type Direction int8

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// SortKey is one (field, direction) pair of a sort expression.
type SortKey struct {
	Field     string
	Direction Direction
}

// Sort is an immutable ordered sequence of sort keys. The zero value sorts
// nothing (server natural order).
type Sort struct {
	keys []SortKey
}

// Asc builds an ascending sort over the given fields, in order.
func Asc(fields ...string) Sort {
	return byDirection(Ascending, fields)
}

// Desc builds a descending sort over the given fields, in order.
func Desc(fields ...string) Sort {
	return byDirection(Descending, fields)
}

func byDirection(d Direction, fields []string) Sort {
	keys := make([]SortKey, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, SortKey{Field: f, Direction: d})
	}
	return Sort{keys: keys}
}

// Then concatenates two sort expressions into a new one, preserving
// first-specified precedence. A field already present keeps its original
// position and direction; later occurrences are dropped.
func (s Sort) Then(other Sort) Sort {
	if len(other.keys) == 0 {
		return s
	}
	if len(s.keys) == 0 {
		return other
	}
	seen := make(map[string]bool, len(s.keys))
	keys := make([]SortKey, 0, len(s.keys)+len(other.keys))
	for _, k := range s.keys {
		seen[k.Field] = true
		keys = append(keys, k)
	}
	for _, k := range other.keys {
		if seen[k.Field] {
			continue
		}
		seen[k.Field] = true
		keys = append(keys, k)
	}
	return Sort{keys: keys}
}

// Keys returns a copy of the ordered key sequence.
func (s Sort) Keys() []SortKey {
	out := make([]SortKey, len(s.keys))
	copy(out, s.keys)
	return out
}

// IsZero reports whether the sort specifies no keys.
func (s Sort) IsZero() bool { return len(s.keys) == 0 }

// CompileSort translates a sort expression into the native ordered
// alias -> direction sequence. A nil translate means identity.
func CompileSort(s Sort, translate func(string) string) bson.D {
	if translate == nil {
		translate = func(f string) string { return f }
	}
	out := make(bson.D, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, bson.E{Key: translate(k.Field), Value: int32(k.Direction)})
	}
	return out
}

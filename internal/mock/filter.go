package mock

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// matches evaluates a compiled filter against one record. It supports the
// shapes the expression compiler emits: $and/$or/$nor branches and
// per-field operator documents on dotted paths.
func matches(record bson.M, filter bson.M) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	for key, condition := range filter {
		switch key {
		case "$and":
			branches, err := branchList(key, condition)
			if err != nil {
				return false, err
			}
			for _, branch := range branches {
				ok, err := matches(record, branch)
				if err != nil || !ok {
					return false, err
				}
			}
		case "$or":
			branches, err := branchList(key, condition)
			if err != nil {
				return false, err
			}
			any := false
			for _, branch := range branches {
				ok, err := matches(record, branch)
				if err != nil {
					return false, err
				}
				if ok {
					any = true
					break
				}
			}
			if !any {
				return false, nil
			}
		case "$nor":
			branches, err := branchList(key, condition)
			if err != nil {
				return false, err
			}
			for _, branch := range branches {
				ok, err := matches(record, branch)
				if err != nil {
					return false, err
				}
				if ok {
					return false, nil
				}
			}
		default:
			ops, ok := asMap(condition)
			if !ok {
				ops = bson.M{"$eq": condition}
			}
			value, present := lookupPath(record, key)
			ok, err := matchField(value, present, ops)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func branchList(op string, condition any) ([]bson.M, error) {
	switch v := condition.(type) {
	case []bson.M:
		return v, nil
	case bson.A:
		return branchList(op, []any(v))
	case []any:
		out := make([]bson.M, 0, len(v))
		for _, item := range v {
			m, ok := asMap(item)
			if !ok {
				return nil, fmt.Errorf("mock: %s branch is not a document: %v", op, item)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("mock: %s needs a list of documents", op)
}

func asMap(v any) (bson.M, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return bson.M(m), true
	}
	return nil, false
}

func lookupPath(record bson.M, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = record
	for _, seg := range segments {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func matchField(value any, present bool, ops bson.M) (bool, error) {
	for op, operand := range ops {
		switch op {
		case "$eq":
			if !present || compareValues(value, operand) != 0 {
				return false, nil
			}
		case "$ne":
			if present && compareValues(value, operand) == 0 {
				return false, nil
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false, nil
			}
			c := compareValues(value, operand)
			if c == incomparable {
				return false, nil
			}
			switch op {
			case "$gt":
				if c <= 0 {
					return false, nil
				}
			case "$gte":
				if c < 0 {
					return false, nil
				}
			case "$lt":
				if c >= 0 {
					return false, nil
				}
			case "$lte":
				if c > 0 {
					return false, nil
				}
			}
		case "$in":
			if !present || !containsValue(operand, value) {
				return false, nil
			}
		case "$nin":
			if present && containsValue(operand, value) {
				return false, nil
			}
		case "$regex":
			pattern, ok := operand.(string)
			if !ok {
				if p, isPrim := operand.(primitive.Regex); isPrim {
					pattern = p.Pattern
					ok = true
				}
			}
			if !ok {
				return false, fmt.Errorf("mock: $regex needs a string pattern, got %T", operand)
			}
			s, isStr := value.(string)
			if !present || !isStr {
				return false, nil
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false, err
			}
			if !re.MatchString(s) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("mock: unsupported operator %s", op)
		}
	}
	return true, nil
}

func containsValue(operand, value any) bool {
	items, ok := operand.([]any)
	if !ok {
		if a, isA := operand.(bson.A); isA {
			items = []any(a)
			ok = true
		}
	}
	if !ok {
		return false
	}
	for _, item := range items {
		if compareValues(value, item) == 0 {
			return true
		}
	}
	return false
}

// incomparable marks values that have no meaningful order against each
// other; range operators treat it as no match.
const incomparable = -2

func compareValues(a, b any) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
		return incomparable
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return incomparable
		}
		return strings.Compare(av, bv)
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return incomparable
		}
		switch {
		case av == bv:
			return 0
		case av:
			return 1
		}
		return -1
	case time.Time:
		bv, ok := toTime(b)
		if !ok {
			return incomparable
		}
		return av.Compare(bv)
	case primitive.DateTime:
		bv, ok := toTime(b)
		if !ok {
			return incomparable
		}
		return av.Time().UTC().Compare(bv)
	case primitive.ObjectID:
		bv, ok := b.(primitive.ObjectID)
		if !ok {
			return incomparable
		}
		return bytes.Compare(av[:], bv[:])
	case primitive.Binary:
		bv, ok := b.(primitive.Binary)
		if !ok {
			return incomparable
		}
		if av.Subtype != bv.Subtype {
			return incomparable
		}
		return bytes.Compare(av.Data, bv.Data)
	case primitive.Decimal128:
		bv, ok := b.(primitive.Decimal128)
		if !ok {
			return incomparable
		}
		return strings.Compare(av.String(), bv.String())
	}
	return incomparable
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case primitive.DateTime:
		return t.Time().UTC(), true
	}
	return time.Time{}, false
}

// sortRecords orders matched records by the compiled sort document,
// comparing key by key. Records missing a key sort before those that have
// it, as an absent value compares lowest.
func sortRecords(records []bson.M, keys bson.D) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		for _, key := range keys {
			av, aok := lookupPath(a, key.Key)
			bv, bok := lookupPath(b, key.Key)
			if !aok && !bok {
				continue
			}
			desc := false
			if d, ok := toFloat(key.Value); ok && d < 0 {
				desc = true
			}
			if !aok {
				return !desc
			}
			if !bok {
				return desc
			}
			c := compareValues(av, bv)
			if c == incomparable || c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

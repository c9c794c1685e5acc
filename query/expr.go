// Package query implements the filter and sort expression algebra.
//
// Expressions are immutable trees built from comparison leaves combined with
// And/Or/Not nodes. Building an expression never talks to the database;
// trees are compiled to the driver's native filter form only when a query
// set executes.
//
// There are three equivalent ways to build the same tree:
//
//	query.Field("age").Gt(21)                 // fluent field reference
//	query.Gt("age", 21)                       // per-operator builder
//	query.Where(map[string]any{"age__gt": 21}) // keyword form
package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Operator identifies a comparison operator on an expression leaf.
type Operator string

const (
	OpEq    Operator = "$eq"
	OpNe    Operator = "$ne"
	OpGt    Operator = "$gt"
	OpGte   Operator = "$gte"
	OpLt    Operator = "$lt"
	OpLte   Operator = "$lte"
	OpIn    Operator = "$in"
	OpNin   Operator = "$nin"
	OpMatch Operator = "$regex"
)

// Expr is a node of an immutable filter expression tree.
type Expr interface {
	isExpr()
}

// Comparison is a leaf comparing one field against a literal value.
type Comparison struct {
	Field string
	Op    Operator
	Value any
}

// AndExpr combines two subtrees; a document must match both.
type AndExpr struct {
	L, R Expr
}

// OrExpr combines two subtrees; a document must match at least one.
type OrExpr struct {
	L, R Expr
}

// NotExpr negates a subtree.
type NotExpr struct {
	X Expr
}

func (Comparison) isExpr() {}
func (AndExpr) isExpr()    {}
func (OrExpr) isExpr()     {}
func (NotExpr) isExpr()    {}

// --------------------------------------------------
// Per-operator builders
// --------------------------------------------------

func Eq(field string, value any) Expr  { return Comparison{Field: field, Op: OpEq, Value: value} }
func Ne(field string, value any) Expr  { return Comparison{Field: field, Op: OpNe, Value: value} }
func Gt(field string, value any) Expr  { return Comparison{Field: field, Op: OpGt, Value: value} }
func Gte(field string, value any) Expr { return Comparison{Field: field, Op: OpGte, Value: value} }
func Lt(field string, value any) Expr  { return Comparison{Field: field, Op: OpLt, Value: value} }
func Lte(field string, value any) Expr { return Comparison{Field: field, Op: OpLte, Value: value} }

func In(field string, values ...any) Expr {
	return Comparison{Field: field, Op: OpIn, Value: values}
}

func Nin(field string, values ...any) Expr {
	return Comparison{Field: field, Op: OpNin, Value: values}
}

// Match builds a pattern-match leaf. The pattern uses the server's regular
// expression dialect and is passed through verbatim.
func Match(field, pattern string) Expr {
	return Comparison{Field: field, Op: OpMatch, Value: pattern}
}

// And combines two trees. A nil side yields the other side unchanged, so
// expressions can be folded incrementally from a nil start.
func And(l, r Expr) Expr {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	return AndExpr{L: l, R: r}
}

// Or combines two trees, eliding nil sides like And.
func Or(l, r Expr) Expr {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	return OrExpr{L: l, R: r}
}

// Not wraps a tree. Not(nil) is nil.
func Not(x Expr) Expr {
	if x == nil {
		return nil
	}
	return NotExpr{X: x}
}

// --------------------------------------------------
// Fluent field references
// --------------------------------------------------

// FieldRef is a reference to a document field (possibly a dotted path into
// an embedded document) that exposes comparison builders.
type FieldRef struct {
	path string
}

// Field creates a field reference. Multiple segments are joined into a
// dotted path: Field("address", "street") refers to address.street.
func Field(segments ...string) FieldRef {
	return FieldRef{path: strings.Join(segments, ".")}
}

// At descends into a nested field of an embedded document.
func (f FieldRef) At(name string) FieldRef {
	if f.path == "" {
		return FieldRef{path: name}
	}
	return FieldRef{path: f.path + "." + name}
}

func (f FieldRef) Path() string { return f.path }

func (f FieldRef) Eq(value any) Expr  { return Eq(f.path, value) }
func (f FieldRef) Ne(value any) Expr  { return Ne(f.path, value) }
func (f FieldRef) Gt(value any) Expr  { return Gt(f.path, value) }
func (f FieldRef) Gte(value any) Expr { return Gte(f.path, value) }
func (f FieldRef) Lt(value any) Expr  { return Lt(f.path, value) }
func (f FieldRef) Lte(value any) Expr { return Lte(f.path, value) }

func (f FieldRef) In(values ...any) Expr  { return In(f.path, values...) }
func (f FieldRef) Nin(values ...any) Expr { return Nin(f.path, values...) }

func (f FieldRef) Match(pattern string) Expr { return Match(f.path, pattern) }

// Asc sorts ascending by this field.
func (f FieldRef) Asc() Sort { return Asc(f.path) }

// Desc sorts descending by this field.
func (f FieldRef) Desc() Sort { return Desc(f.path) }

// --------------------------------------------------
// Keyword construction
// --------------------------------------------------

const keywordSeparator = "__"

var keywordOperators = map[string]Operator{
	"eq":    OpEq,
	"ne":    OpNe,
	"gt":    OpGt,
	"gte":   OpGte,
	"lt":    OpLt,
	"lte":   OpLte,
	"in":    OpIn,
	"nin":   OpNin,
	"match": OpMatch,
}

// Where builds a tree from keyword-style conditions. Each key splits on "__"
// into a field path plus an optional trailing operator name; a missing
// operator suffix means equality. Conditions fold together with And, in
// lexical key order so the resulting tree is deterministic.
//
//	Where(map[string]any{"age__gt": 21, "address__street": "Elm"})
//	  == And(Eq("address.street", "Elm"), Gt("age", 21))
func Where(conditions map[string]any) (Expr, error) {
	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out Expr
	for _, key := range keys {
		expr, err := parseKeyword(key, conditions[key])
		if err != nil {
			return nil, err
		}
		out = And(out, expr)
	}
	return out, nil
}

func parseKeyword(key string, value any) (Expr, error) {
	segments := strings.Split(key, keywordSeparator)

	op := OpEq
	if len(segments) > 1 {
		if known, ok := keywordOperators[segments[len(segments)-1]]; ok {
			op = known
			segments = segments[:len(segments)-1]
		}
	}
	field := strings.Join(segments, ".")
	if field == "" {
		return nil, fmt.Errorf("query: empty field in keyword %q", key)
	}

	if op == OpIn || op == OpNin {
		values, err := anySlice(value)
		if err != nil {
			return nil, fmt.Errorf("query: keyword %q: %w", key, err)
		}
		value = values
	}
	return Comparison{Field: field, Op: op, Value: value}, nil
}

func anySlice(value any) ([]any, error) {
	if vs, ok := value.([]any); ok {
		return vs, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("membership operator needs a slice, got %T", value)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// --------------------------------------------------
// Compilation
// --------------------------------------------------

// Compile walks a tree bottom-up into the native filter form. The translate
// callback maps declared field paths to storage aliases; nil means identity.
// Negation compiles to $nor, the server's tree-level negation.
func Compile(e Expr, translate func(string) string) bson.M {
	if e == nil {
		return bson.M{}
	}
	if translate == nil {
		translate = func(s string) string { return s }
	}
	return compile(e, translate)
}

func compile(e Expr, translate func(string) string) bson.M {
	switch n := e.(type) {
	case Comparison:
		return bson.M{translate(n.Field): bson.M{string(n.Op): n.Value}}
	case AndExpr:
		return bson.M{"$and": bson.A{compile(n.L, translate), compile(n.R, translate)}}
	case OrExpr:
		return bson.M{"$or": bson.A{compile(n.L, translate), compile(n.R, translate)}}
	case NotExpr:
		return bson.M{"$nor": bson.A{compile(n.X, translate)}}
	default:
		panic(fmt.Sprintf("query: unknown expression node %T", e))
	}
}

package mongotoy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// dumpTarget selects the serialization target a value is being prepared for.
// The engine prepares data for each format; wire-level encoding stays with
// the driver.
type dumpTarget int

const (
	dumpDict dumpTarget = iota
	dumpJSON
	dumpBSON
)

type dumpOptions struct {
	target       dumpTarget
	byAlias      bool
	excludeEmpty bool
	excludeNull  bool
}

type parseContext struct {
	registry    *Registry
	fromBSON    bool
	useDefaults bool
}

// mapper converts and validates raw input for one declared field type, and
// prepares stored values for export. Parse is pure: coercion first, then
// the type-specific constraint checks.
type mapper interface {
	Parse(pc *parseContext, raw any) (any, error)
	Dump(v any, o dumpOptions) any
}

// --------------------------------------------------
// Coercion helpers
// --------------------------------------------------

func toInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float32:
		if float32(int64(v)) == v {
			return int64(v), true
		}
	case float64:
		if float64(int64(v)) == v {
			return int64(v), true
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	}
	return 0, false
}

func toFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	default:
		if n, ok := toInt64(raw); ok {
			return float64(n), true
		}
	}
	return 0, false
}

func toTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case primitive.DateTime:
		return v.Time().UTC(), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// bounds holds the optional ordering constraints of a comparable field. The
// typed mappers coerce each bound through their own conversion before
// comparing, so a declared Gte(18) works for both int and float fields.
type bounds struct {
	gt, gte, lt, lte any
}

func (b bounds) empty() bool {
	return b.gt == nil && b.gte == nil && b.lt == nil && b.lte == nil
}

// check runs the four bound comparisons using cmp, which must return the
// sign of value - bound.
func (b bounds) check(cmp func(bound any) (int, error)) error {
	type rule struct {
		bound any
		ok    func(sign int) bool
		label string
	}
	rules := []rule{
		{b.gt, func(s int) bool { return s > 0 }, "greater than"},
		{b.gte, func(s int) bool { return s >= 0 }, "greater than or equal to"},
		{b.lt, func(s int) bool { return s < 0 }, "less than"},
		{b.lte, func(s int) bool { return s <= 0 }, "less than or equal to"},
	}
	for _, r := range rules {
		if r.bound == nil {
			continue
		}
		sign, err := cmp(r.bound)
		if err != nil {
			return err
		}
		if !r.ok(sign) {
			return fmt.Errorf("value must be %s %v", r.label, r.bound)
		}
	}
	return nil
}

func sign64(v, b int64) int {
	switch {
	case v < b:
		return -1
	case v > b:
		return 1
	}
	return 0
}

func signFloat(v, b float64) int {
	switch {
	case v < b:
		return -1
	case v > b:
		return 1
	}
	return 0
}

// --------------------------------------------------
// Scalar mappers
// --------------------------------------------------

type stringMapper struct {
	minLen, maxLen       int
	hasMinLen, hasMaxLen bool
	choices              []string
	pattern              *regexp.Regexp
}

func (m *stringMapper) Parse(_ *parseContext, raw any) (any, error) {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case fmt.Stringer:
		s = v.String()
	default:
		return nil, fmt.Errorf("expected string, got %T", raw)
	}

	length := utf8.RuneCountInString(s)
	if m.hasMinLen && length < m.minLen {
		return nil, fmt.Errorf("length %d is below minimum %d", length, m.minLen)
	}
	if m.hasMaxLen && length > m.maxLen {
		return nil, fmt.Errorf("length %d exceeds maximum %d", length, m.maxLen)
	}
	if len(m.choices) > 0 {
		found := false
		for _, c := range m.choices {
			if s == c {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("value %q is not one of %v", s, m.choices)
		}
	}
	if m.pattern != nil && !m.pattern.MatchString(s) {
		return nil, fmt.Errorf("value %q does not match pattern %s", s, m.pattern)
	}
	return s, nil
}

func (m *stringMapper) Dump(v any, _ dumpOptions) any { return v }

type intMapper struct {
	bounds      bounds
	multipleOf  int64
	hasMultiple bool
}

func (m *intMapper) Parse(_ *parseContext, raw any) (any, error) {
	n, ok := toInt64(raw)
	if !ok {
		return nil, fmt.Errorf("expected integer, got %T(%v)", raw, raw)
	}
	err := m.bounds.check(func(bound any) (int, error) {
		b, ok := toInt64(bound)
		if !ok {
			return 0, fmt.Errorf("non-integer bound %v", bound)
		}
		return sign64(n, b), nil
	})
	if err != nil {
		return nil, err
	}
	if m.hasMultiple && m.multipleOf != 0 && n%m.multipleOf != 0 {
		return nil, fmt.Errorf("value %d is not a multiple of %d", n, m.multipleOf)
	}
	return n, nil
}

func (m *intMapper) Dump(v any, _ dumpOptions) any { return v }

type floatMapper struct {
	bounds bounds
}

func (m *floatMapper) Parse(_ *parseContext, raw any) (any, error) {
	f, ok := toFloat64(raw)
	if !ok {
		return nil, fmt.Errorf("expected number, got %T(%v)", raw, raw)
	}
	err := m.bounds.check(func(bound any) (int, error) {
		b, ok := toFloat64(bound)
		if !ok {
			return 0, fmt.Errorf("non-numeric bound %v", bound)
		}
		return signFloat(f, b), nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (m *floatMapper) Dump(v any, _ dumpOptions) any { return v }

type decimalMapper struct {
	bounds bounds
}

func (m *decimalMapper) Parse(_ *parseContext, raw any) (any, error) {
	var d primitive.Decimal128
	switch v := raw.(type) {
	case primitive.Decimal128:
		d = v
	case string:
		parsed, err := primitive.ParseDecimal128(v)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q", v)
		}
		d = parsed
	default:
		f, ok := toFloat64(raw)
		if !ok {
			return nil, fmt.Errorf("expected decimal, got %T(%v)", raw, raw)
		}
		parsed, err := primitive.ParseDecimal128(strconv.FormatFloat(f, 'f', -1, 64))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %v", f)
		}
		d = parsed
	}

	if !m.bounds.empty() {
		f, err := strconv.ParseFloat(d.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("decimal %v is not comparable", d)
		}
		err = m.bounds.check(func(bound any) (int, error) {
			b, ok := toFloat64(bound)
			if !ok {
				return 0, fmt.Errorf("non-numeric bound %v", bound)
			}
			return signFloat(f, b), nil
		})
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (m *decimalMapper) Dump(v any, o dumpOptions) any {
	if o.target == dumpJSON {
		return v.(primitive.Decimal128).String()
	}
	return v
}

type boolMapper struct{}

func (m *boolMapper) Parse(_ *parseContext, raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("expected boolean, got %q", v)
		}
		return b, nil
	}
	return nil, fmt.Errorf("expected boolean, got %T", raw)
}

func (m *boolMapper) Dump(v any, _ dumpOptions) any { return v }

type timeMapper struct {
	bounds bounds
}

func (m *timeMapper) Parse(_ *parseContext, raw any) (any, error) {
	t, ok := toTime(raw)
	if !ok {
		return nil, fmt.Errorf("expected time, got %T(%v)", raw, raw)
	}
	err := m.bounds.check(func(bound any) (int, error) {
		b, ok := toTime(bound)
		if !ok {
			return 0, fmt.Errorf("non-time bound %v", bound)
		}
		switch {
		case t.Before(b):
			return -1, nil
		case t.After(b):
			return 1, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (m *timeMapper) Dump(v any, o dumpOptions) any {
	t := v.(time.Time)
	switch o.target {
	case dumpJSON:
		return t.Format(time.RFC3339Nano)
	case dumpBSON:
		return primitive.NewDateTimeFromTime(t)
	}
	return t
}

type bytesMapper struct {
	minLen, maxLen       int
	hasMinLen, hasMaxLen bool
}

func (m *bytesMapper) Parse(_ *parseContext, raw any) (any, error) {
	var b []byte
	switch v := raw.(type) {
	case []byte:
		b = v
	case primitive.Binary:
		b = v.Data
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("expected base64 data: %v", err)
		}
		b = decoded
	default:
		return nil, fmt.Errorf("expected bytes, got %T", raw)
	}
	if m.hasMinLen && len(b) < m.minLen {
		return nil, fmt.Errorf("length %d is below minimum %d", len(b), m.minLen)
	}
	if m.hasMaxLen && len(b) > m.maxLen {
		return nil, fmt.Errorf("length %d exceeds maximum %d", len(b), m.maxLen)
	}
	return b, nil
}

func (m *bytesMapper) Dump(v any, o dumpOptions) any {
	b := v.([]byte)
	switch o.target {
	case dumpJSON:
		return base64.StdEncoding.EncodeToString(b)
	case dumpBSON:
		return primitive.Binary{Data: b}
	}
	return b
}

type objectIDMapper struct{}

func (m *objectIDMapper) Parse(_ *parseContext, raw any) (any, error) {
	switch v := raw.(type) {
	case primitive.ObjectID:
		return v, nil
	case string:
		oid, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, fmt.Errorf("invalid object id %q", v)
		}
		return oid, nil
	}
	return nil, fmt.Errorf("expected object id, got %T", raw)
}

func (m *objectIDMapper) Dump(v any, o dumpOptions) any {
	if o.target == dumpJSON {
		return v.(primitive.ObjectID).Hex()
	}
	return v
}

type uuidMapper struct{}

func (m *uuidMapper) Parse(_ *parseContext, raw any) (any, error) {
	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q", v)
		}
		return u, nil
	case []byte:
		u, err := uuid.FromBytes(v)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid bytes: %v", err)
		}
		return u, nil
	case primitive.Binary:
		u, err := uuid.FromBytes(v.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid binary: %v", err)
		}
		return u, nil
	}
	return nil, fmt.Errorf("expected uuid, got %T", raw)
}

func (m *uuidMapper) Dump(v any, o dumpOptions) any {
	u := v.(uuid.UUID)
	switch o.target {
	case dumpJSON:
		return u.String()
	case dumpBSON:
		return primitive.Binary{Subtype: 0x04, Data: u[:]}
	}
	return u
}

// --------------------------------------------------
// Composite mappers
// --------------------------------------------------

type listMapper struct {
	inner                    mapper
	minItems, maxItems       int
	hasMinItems, hasMaxItems bool
}

func (m *listMapper) Parse(pc *parseContext, raw any) (any, error) {
	items, ok := asSlice(raw)
	if !ok {
		return nil, fmt.Errorf("expected sequence, got %T", raw)
	}
	if m.hasMinItems && len(items) < m.minItems {
		return nil, fmt.Errorf("item count %d is below minimum %d", len(items), m.minItems)
	}
	if m.hasMaxItems && len(items) > m.maxItems {
		return nil, fmt.Errorf("item count %d exceeds maximum %d", len(items), m.maxItems)
	}

	out := make([]any, len(items))
	var faults []FieldFault
	for i, item := range items {
		parsed, err := m.inner.Parse(pc, item)
		if err != nil {
			faults = append(faults, itemFaults(strconv.Itoa(i), err)...)
			continue
		}
		out[i] = parsed
	}
	if len(faults) > 0 {
		return nil, &ValidationError{Faults: faults}
	}
	return out, nil
}

func (m *listMapper) Dump(v any, o dumpOptions) any {
	items := v.([]any)
	out := make([]any, 0, len(items))
	for _, item := range items {
		if item == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, m.inner.Dump(item, o))
	}
	return out
}

func asSlice(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []any:
		return v, true
	case bson.A:
		return v, true
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// itemFaults converts a nested parse error into located faults under loc.
func itemFaults(loc string, err error) []FieldFault {
	if ve, ok := err.(*ValidationError); ok {
		out := make([]FieldFault, 0, len(ve.Faults))
		for _, f := range ve.Faults {
			out = append(out, FieldFault{Loc: append([]string{loc}, f.Loc...), Err: f.Err})
		}
		return out
	}
	return []FieldFault{{Loc: []string{loc}, Err: err}}
}

type embeddedMapper struct {
	typeName string
}

func (m *embeddedMapper) Parse(pc *parseContext, raw any) (any, error) {
	dt, err := pc.registry.lookup(m.typeName)
	if err != nil {
		return nil, err
	}
	if !dt.embedded {
		return nil, schemaErrorf(dt.name, "standalone document type cannot be embedded, use Ref")
	}
	switch v := raw.(type) {
	case *Document:
		if v.dt.name != dt.name {
			return nil, fmt.Errorf("expected %s document, got %s", dt.name, v.dt.name)
		}
		return v, nil
	case map[string]any:
		return dt.instantiate(v, pc.useDefaults, pc.fromBSON)
	case bson.M:
		return dt.instantiate(map[string]any(v), pc.useDefaults, pc.fromBSON)
	case bson.D:
		data := make(map[string]any, len(v))
		for _, e := range v {
			data[e.Key] = e.Value
		}
		return dt.instantiate(data, pc.useDefaults, pc.fromBSON)
	}
	return nil, fmt.Errorf("expected %s document or mapping, got %T", dt.name, raw)
}

func (m *embeddedMapper) Dump(v any, o dumpOptions) any {
	return v.(*Document).dump(o)
}

// referenceMapper stores either the materialized referenced document or the
// raw foreign key value when the reference has not been dereferenced.
type referenceMapper struct {
	typeName string
	refField string
	many     bool
}

func (m *referenceMapper) Parse(pc *parseContext, raw any) (any, error) {
	if m.many {
		items, ok := asSlice(raw)
		if !ok {
			return nil, fmt.Errorf("expected sequence of references, got %T", raw)
		}
		out := make([]any, len(items))
		var faults []FieldFault
		for i, item := range items {
			parsed, err := m.parseOne(pc, item)
			if err != nil {
				faults = append(faults, itemFaults(strconv.Itoa(i), err)...)
				continue
			}
			out[i] = parsed
		}
		if len(faults) > 0 {
			return nil, &ValidationError{Faults: faults}
		}
		return out, nil
	}
	return m.parseOne(pc, raw)
}

func (m *referenceMapper) parseOne(pc *parseContext, raw any) (any, error) {
	dt, err := pc.registry.lookup(m.typeName)
	if err != nil {
		return nil, err
	}
	if doc, ok := raw.(*Document); ok {
		if doc.dt.name != dt.name {
			return nil, fmt.Errorf("expected %s document, got %s", dt.name, doc.dt.name)
		}
		return doc, nil
	}
	// A raw foreign key: validate it against the referenced field's type.
	refField, err := dt.refTargetField(m.refField)
	if err != nil {
		return nil, err
	}
	return refField.mapper.Parse(pc, raw)
}

func (m *referenceMapper) Dump(v any, o dumpOptions) any {
	if m.many {
		items := v.([]any)
		out := make([]any, 0, len(items))
		for _, item := range items {
			if item == nil {
				continue
			}
			out = append(out, m.dumpOne(item, o))
		}
		return out
	}
	return m.dumpOne(v, o)
}

// dumpOne serializes the foreign key value only; the referenced document's
// own record is never duplicated inline.
func (m *referenceMapper) dumpOne(v any, o dumpOptions) any {
	doc, ok := v.(*Document)
	if !ok {
		return v
	}
	f, err := doc.dt.refTargetField(m.refField)
	if err != nil {
		return nil
	}
	key, ok := doc.data[f.name]
	if !ok || key == nil {
		return nil
	}
	return f.mapper.Dump(key, o)
}

// fileMapper stores a handle into the byte-stream store; the record keeps
// only the file id.
type fileMapper struct{}

func (m *fileMapper) Parse(_ *parseContext, raw any) (any, error) {
	switch v := raw.(type) {
	case *FileRef:
		return v, nil
	case FileRef:
		return &v, nil
	case primitive.ObjectID:
		return &FileRef{ID: v}, nil
	case string:
		oid, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, fmt.Errorf("invalid file id %q", v)
		}
		return &FileRef{ID: oid}, nil
	}
	return nil, fmt.Errorf("expected file reference, got %T", raw)
}

func (m *fileMapper) Dump(v any, o dumpOptions) any {
	ref := v.(*FileRef)
	switch o.target {
	case dumpJSON:
		return ref.ID.Hex()
	case dumpBSON:
		return ref.ID
	}
	return ref
}

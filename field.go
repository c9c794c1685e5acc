package mongotoy

import (
	"regexp"

	"github.com/gurcuff91/mongotoy/pkg/types"
)

// IndexKind selects the kind of index declared on a field.
type IndexKind int

const (
	IndexNone IndexKind = iota
	IndexAsc
	IndexDesc
	IndexHashed
	IndexText
	IndexGeo2DSphere
)

// Field describes one declared attribute of a document type: its semantic
// type (through the attached mapper), storage alias, nullability, defaults,
// index specification and type-specific constraints. Fields are built by the
// typed constructors below, registered once as part of a Schema, and
// immutable afterwards; all instances of the type share them.
type Field struct {
	name       string
	alias      string
	id         bool
	nullable   bool
	def        any
	defFunc    func() any
	hasDef     bool
	index      IndexKind
	unique     bool
	uniqueWith []string
	sparse     bool
	timeField  bool
	metaField  bool
	ref        *Reference
	mapper     mapper
}

func (f *Field) Name() string { return f.name }

// Alias is the storage key for the field. It defaults to the declared name;
// id fields always store under "_id"; reference fields store under their
// reference key name.
func (f *Field) Alias() string {
	if f.alias != "" {
		return f.alias
	}
	return f.name
}

func (f *Field) IsID() bool     { return f.id }
func (f *Field) Nullable() bool { return f.nullable }

// HasDefault reports whether the field resolves a default value or factory.
func (f *Field) HasDefault() bool { return f.hasDef || f.defFunc != nil }

// DefaultValue produces the field default, favoring the factory.
func (f *Field) DefaultValue() any {
	if f.defFunc != nil {
		return f.defFunc()
	}
	return f.def
}

// Reference returns the attached reference descriptor, or nil for
// non-reference fields.
func (f *Field) Reference() *Reference { return f.ref }

type fieldConfig struct {
	alias      string
	id         bool
	notNull    bool
	def        any
	hasDef     bool
	defFunc    func() any
	index      IndexKind
	unique     bool
	uniqueWith []string
	sparse     bool
	timeField  bool
	metaField  bool

	// type-specific constraints, interpreted by the typed constructors
	gt, gte, lt, lte         any
	multipleOf               int64
	hasMultiple              bool
	minLen, maxLen           int
	hasMinLen, hasMaxLen     bool
	choices                  []string
	pattern                  *regexp.Regexp
	minItems, maxItems       int
	hasMinItems, hasMaxItems bool
	refField                 string
	keyName                  string
}

// FieldOption customizes a field declaration.
type FieldOption func(*fieldConfig)

// Alias sets the storage key under which the field serializes.
func Alias(alias string) FieldOption { return func(c *fieldConfig) { c.alias = alias } }

// ID marks the field as the document id. The storage alias becomes "_id"
// and the field is no longer nullable. Exactly one field per document type
// may carry this flag, and it must resolve a default.
func ID() FieldOption { return func(c *fieldConfig) { c.id = true } }

// NotNull rejects explicit null values for the field.
func NotNull() FieldOption { return func(c *fieldConfig) { c.notNull = true } }

// Default sets a constant default applied when the field is unset at
// instantiation.
func Default(value any) FieldOption {
	return func(c *fieldConfig) { c.def = value; c.hasDef = true }
}

// DefaultFunc sets a default-producing function, evaluated per instance.
func DefaultFunc(fn func() any) FieldOption { return func(c *fieldConfig) { c.defFunc = fn } }

// Index declares a single-field index of the given kind.
func Index(kind IndexKind) FieldOption { return func(c *fieldConfig) { c.index = kind } }

// Unique declares a unique index on the field.
func Unique() FieldOption { return func(c *fieldConfig) { c.unique = true } }

// UniqueWith declares a compound unique index over this field plus others.
func UniqueWith(fields ...string) FieldOption {
	return func(c *fieldConfig) { c.unique = true; c.uniqueWith = fields }
}

// Sparse makes the field's index skip records where the field is absent.
func Sparse() FieldOption { return func(c *fieldConfig) { c.sparse = true } }

// TimeField marks the field as the time axis of a time-series collection.
func TimeField() FieldOption { return func(c *fieldConfig) { c.timeField = true } }

// MetaField marks the field as the metadata of a time-series collection.
func MetaField() FieldOption { return func(c *fieldConfig) { c.metaField = true } }

// Gt/Gte/Lt/Lte bound comparable fields (numbers, times).
func Gt(v any) FieldOption  { return func(c *fieldConfig) { c.gt = v } }
func Gte(v any) FieldOption { return func(c *fieldConfig) { c.gte = v } }
func Lt(v any) FieldOption  { return func(c *fieldConfig) { c.lt = v } }
func Lte(v any) FieldOption { return func(c *fieldConfig) { c.lte = v } }

// MultipleOf constrains integer fields to multiples of n.
func MultipleOf(n int64) FieldOption {
	return func(c *fieldConfig) { c.multipleOf = n; c.hasMultiple = true }
}

// MinLen/MaxLen bound the length of text fields.
func MinLen(n int) FieldOption { return func(c *fieldConfig) { c.minLen = n; c.hasMinLen = true } }
func MaxLen(n int) FieldOption { return func(c *fieldConfig) { c.maxLen = n; c.hasMaxLen = true } }

// Choices restricts a text field to an enumerated set of values.
func Choices(values ...string) FieldOption {
	return func(c *fieldConfig) { c.choices = values }
}

// Pattern constrains a text field to match a regular expression.
func Pattern(re *regexp.Regexp) FieldOption { return func(c *fieldConfig) { c.pattern = re } }

// MinItems/MaxItems bound the item count of sequence fields.
func MinItems(n int) FieldOption {
	return func(c *fieldConfig) { c.minItems = n; c.hasMinItems = true }
}

func MaxItems(n int) FieldOption {
	return func(c *fieldConfig) { c.maxItems = n; c.hasMaxItems = true }
}

// RefField names the field of the referenced document that the stored key
// points at. Defaults to the referenced type's id field.
func RefField(name string) FieldOption { return func(c *fieldConfig) { c.refField = name } }

// KeyName names the storage key that holds the foreign value of a reference
// field. Defaults to "<field>_<reffield>".
func KeyName(name string) FieldOption { return func(c *fieldConfig) { c.keyName = name } }

func applyOptions(opts []FieldOption) *fieldConfig {
	c := &fieldConfig{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *fieldConfig) build(name string, m mapper) *Field {
	f := &Field{
		name:       name,
		alias:      c.alias,
		id:         c.id,
		nullable:   !c.notNull,
		def:        c.def,
		hasDef:     c.hasDef,
		defFunc:    c.defFunc,
		index:      c.index,
		unique:     c.unique,
		uniqueWith: c.uniqueWith,
		sparse:     c.sparse,
		timeField:  c.timeField,
		metaField:  c.metaField,
		mapper:     m,
	}
	if f.id {
		f.alias = "_id"
		f.nullable = false
	}
	return f
}

// --------------------------------------------------
// Typed field constructors
// --------------------------------------------------

// String declares a text field. Supports MinLen, MaxLen, Choices, Pattern.
func String(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &stringMapper{
		minLen: c.minLen, hasMinLen: c.hasMinLen,
		maxLen: c.maxLen, hasMaxLen: c.hasMaxLen,
		choices: c.choices,
		pattern: c.pattern,
	})
}

// Int declares an integer field. Supports Gt/Gte/Lt/Lte and MultipleOf.
func Int(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &intMapper{
		bounds:      boundsOf(c),
		multipleOf:  c.multipleOf,
		hasMultiple: c.hasMultiple,
	})
}

// Float declares a floating-point field. Supports Gt/Gte/Lt/Lte.
func Float(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &floatMapper{bounds: boundsOf(c)})
}

// Decimal declares a high-precision decimal field stored as Decimal128.
func Decimal(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &decimalMapper{bounds: boundsOf(c)})
}

// Bool declares a boolean field.
func Bool(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &boolMapper{})
}

// Time declares an instant field. Supports Gt/Gte/Lt/Lte with time.Time
// bounds. Values coerce from RFC 3339 strings and driver datetimes.
func Time(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &timeMapper{bounds: boundsOf(c)})
}

// Bytes declares a binary field. Values coerce from base64 strings and
// driver binary values.
func Bytes(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &bytesMapper{
		minLen: c.minLen, hasMinLen: c.hasMinLen,
		maxLen: c.maxLen, hasMaxLen: c.hasMaxLen,
	})
}

// ObjectID declares an opaque unique identifier field.
func ObjectID(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &objectIDMapper{})
}

// UUID declares a UUID field, stored as driver binary subtype 4.
func UUID(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &uuidMapper{})
}

// List declares a sequence field over an element declaration. Supports
// MinItems and MaxItems. The element field carries the item constraints;
// its name is ignored.
func List(name string, elem *Field, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &listMapper{
		inner:    elem.mapper,
		minItems: c.minItems, hasMinItems: c.hasMinItems,
		maxItems: c.maxItems, hasMaxItems: c.hasMaxItems,
	})
}

// Embedded declares a nested-document field stored inline inside the parent
// record. The schema is referenced by name and must be an embedded schema;
// embedding a standalone document type is a schema error — standalone types
// must be referenced explicitly with Ref.
func Embedded(name, schema string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &embeddedMapper{typeName: schema})
}

// Ref declares a reference field: the parent stores only the foreign key
// value, under the reference key name, and the referenced document lives in
// its own collection. The schema name may be a forward or self reference;
// it resolves lazily on first use.
func Ref(name, schema string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	f := c.build(name, &referenceMapper{typeName: schema, refField: c.refField})
	f.ref = newReference(name, schema, c.refField, c.keyName, false)
	return f
}

// RefList declares a reference to many documents: the parent stores a list
// of foreign key values.
func RefList(name, schema string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	f := c.build(name, &referenceMapper{typeName: schema, refField: c.refField, many: true})
	f.ref = newReference(name, schema, c.refField, c.keyName, true)
	return f
}

// File declares a field holding a handle into the byte-stream store. File
// contents live outside the document record and are exempt from cascading
// delete; remove them through the FileStore directly.
func File(name string, opts ...FieldOption) *Field {
	c := applyOptions(opts)
	return c.build(name, &fileMapper{})
}

// Email declares a text field constrained to the email address pattern.
func Email(name string, opts ...FieldOption) *Field {
	return String(name, append(opts, Pattern(types.EmailPattern))...)
}

// URL declares a text field constrained to the URL pattern.
func URL(name string, opts ...FieldOption) *Field {
	return String(name, append(opts, Pattern(types.URLPattern))...)
}

// IP declares a text field constrained to the IPv4 dotted-quad pattern.
func IP(name string, opts ...FieldOption) *Field {
	return String(name, append(opts, Pattern(types.IPv4Pattern))...)
}

func boundsOf(c *fieldConfig) bounds {
	return bounds{gt: c.gt, gte: c.gte, lt: c.lt, lte: c.lte}
}

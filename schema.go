package mongotoy

import (
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// CappedOptions configures a fixed-size collection.
type CappedOptions struct {
	SizeBytes    int64
	MaxDocuments int64
}

// TimeseriesOptions configures a time-series collection. TimeField and
// MetaField are filled from the schema fields flagged with the TimeField
// and MetaField options.
type TimeseriesOptions struct {
	TimeField   string
	MetaField   string
	Granularity string
	ExpireAfter time.Duration
}

// Schema is the declarative description of a document type: an ordered
// field list plus type-level configuration. Schemas are plain data built
// once and handed to a Registry; nothing is discovered by reflection.
type Schema struct {
	name         string
	embedded     bool
	collection   string
	bases        []string
	fields       []*Field
	capped       *CappedOptions
	timeseries   *TimeseriesOptions
	readConcern  *readconcern.ReadConcern
	writeConcern *writeconcern.WriteConcern
}

// NewDocument declares a standalone document type, persisted one record per
// instance in its own collection. If no field carries the ID flag, an
// ObjectID id field with a generated default is synthesized at registration.
func NewDocument(name string, fields ...*Field) *Schema {
	return &Schema{name: name, fields: fields}
}

// NewEmbedded declares an embedded document type, stored inline inside its
// parent record and never independently persisted.
func NewEmbedded(name string, fields ...*Field) *Schema {
	return &Schema{name: name, embedded: true, fields: fields}
}

func (s *Schema) Name() string { return s.name }

// WithCollection overrides the storage collection name, which defaults to
// the pluralized, lowercased type name.
func (s *Schema) WithCollection(name string) *Schema {
	s.collection = name
	return s
}

// Extends merges the named base schema's fields under this schema's own;
// fields declared here override base fields with the same name. Bases must
// be registered before the subtype.
func (s *Schema) Extends(bases ...string) *Schema {
	s.bases = append(s.bases, bases...)
	return s
}

// WithCapped makes the collection capped. Mutually exclusive with
// WithTimeseries.
func (s *Schema) WithCapped(sizeBytes, maxDocuments int64) *Schema {
	s.capped = &CappedOptions{SizeBytes: sizeBytes, MaxDocuments: maxDocuments}
	return s
}

// WithTimeseries makes the collection a time-series collection keyed by the
// field flagged TimeField. Mutually exclusive with WithCapped.
func (s *Schema) WithTimeseries(granularity string, expireAfter time.Duration) *Schema {
	s.timeseries = &TimeseriesOptions{Granularity: granularity, ExpireAfter: expireAfter}
	return s
}

// WithReadConcern sets the per-type read policy applied by the driver.
func (s *Schema) WithReadConcern(rc *readconcern.ReadConcern) *Schema {
	s.readConcern = rc
	return s
}

// WithWriteConcern sets the per-type write policy applied by the driver.
func (s *Schema) WithWriteConcern(wc *writeconcern.WriteConcern) *Schema {
	s.writeConcern = wc
	return s
}

// DocumentType is a registered, compiled schema: the ordered merged field
// set, the id field, the reference descriptors and the derived index list.
// Read-only after registration and shared by every instance of the type.
type DocumentType struct {
	registry     *Registry
	name         string
	embedded     bool
	collection   string
	fields       []*Field
	byName       map[string]*Field
	idField      *Field
	references   []*Reference
	capped       *CappedOptions
	timeseries   *TimeseriesOptions
	readConcern  *readconcern.ReadConcern
	writeConcern *writeconcern.WriteConcern
}

func (dt *DocumentType) Name() string       { return dt.name }
func (dt *DocumentType) Embedded() bool     { return dt.embedded }
func (dt *DocumentType) Collection() string { return dt.collection }

// Fields returns the ordered field descriptors.
func (dt *DocumentType) Fields() []*Field {
	out := make([]*Field, len(dt.fields))
	copy(out, dt.fields)
	return out
}

// FieldByName returns the descriptor for a declared field name.
func (dt *DocumentType) FieldByName(name string) (*Field, bool) {
	f, ok := dt.byName[name]
	return f, ok
}

// IDField returns the id descriptor; nil for embedded types.
func (dt *DocumentType) IDField() *Field { return dt.idField }

// References returns the reference descriptors in field declaration order.
func (dt *DocumentType) References() []*Reference {
	out := make([]*Reference, len(dt.references))
	copy(out, dt.references)
	return out
}

func (dt *DocumentType) collectionRef() CollectionRef {
	return CollectionRef{
		Name:         dt.collection,
		ReadConcern:  dt.readConcern,
		WriteConcern: dt.writeConcern,
	}
}

// refTargetField resolves the field a reference key points at; empty means
// the id field.
func (dt *DocumentType) refTargetField(name string) (*Field, error) {
	if name == "" {
		if dt.idField == nil {
			return nil, schemaErrorf(dt.name, "embedded type cannot be a reference target")
		}
		return dt.idField, nil
	}
	f, ok := dt.byName[name]
	if !ok {
		return nil, schemaErrorf(dt.name, "referenced field %s does not exist", name)
	}
	return f, nil
}

// AliasPath translates a dotted declared-name path into its storage-alias
// form, descending through embedded and referenced types. Unknown segments
// pass through unchanged; that keeps raw-alias queries expressible, and a
// misspelled declared name silently matches nothing, which is documented as
// a caller responsibility.
func (dt *DocumentType) AliasPath(path string) string {
	segments := strings.Split(path, ".")
	out := make([]string, 0, len(segments))
	cur := dt
	for i, seg := range segments {
		if cur == nil {
			out = append(out, segments[i:]...)
			break
		}
		f, ok := cur.byName[seg]
		if !ok {
			out = append(out, segments[i:]...)
			break
		}
		out = append(out, f.Alias())
		var next *DocumentType
		switch m := f.mapper.(type) {
		case *embeddedMapper:
			if t, err := dt.registry.lookup(m.typeName); err == nil && t.embedded {
				next = t
			}
		case *listMapper:
			if em, ok := m.inner.(*embeddedMapper); ok {
				if t, err := dt.registry.lookup(em.typeName); err == nil && t.embedded {
					next = t
				}
			}
		}
		cur = next
	}
	return strings.Join(out, ".")
}

// --------------------------------------------------
// Index derivation
// --------------------------------------------------

// IndexKey is one (storage alias, kind) pair of a declared index.
type IndexKey struct {
	Field string
	Kind  IndexKind
}

// IndexSpec is declarative index metadata handed to the driver; no index
// selection happens here.
type IndexSpec struct {
	Keys   []IndexKey
	Unique bool
	Sparse bool
}

// Indexes derives the index list from the field declarations, hoisting
// indexes of embedded documents under the embedding field's alias.
func (dt *DocumentType) Indexes() []IndexSpec {
	var out []IndexSpec
	for _, f := range dt.fields {
		if spec, ok := fieldIndex(f); ok {
			out = append(out, spec)
		}

		inner := f.mapper
		if lm, ok := inner.(*listMapper); ok {
			inner = lm.inner
		}
		if em, ok := inner.(*embeddedMapper); ok {
			sub, err := dt.registry.lookup(em.typeName)
			if err != nil || !sub.embedded {
				continue
			}
			for _, spec := range sub.Indexes() {
				keys := make([]IndexKey, len(spec.Keys))
				for i, k := range spec.Keys {
					keys[i] = IndexKey{Field: f.Alias() + "." + k.Field, Kind: k.Kind}
				}
				out = append(out, IndexSpec{Keys: keys, Unique: spec.Unique, Sparse: spec.Sparse})
			}
		}
	}
	return out
}

func fieldIndex(f *Field) (IndexSpec, bool) {
	kind := f.index
	if kind == IndexNone && (f.unique || f.sparse) {
		kind = IndexAsc
	}
	if kind == IndexNone {
		return IndexSpec{}, false
	}
	spec := IndexSpec{
		Keys:   []IndexKey{{Field: f.Alias(), Kind: kind}},
		Unique: f.unique,
		Sparse: f.sparse,
	}
	for _, extra := range f.uniqueWith {
		spec.Keys = append(spec.Keys, IndexKey{Field: extra, Kind: IndexAsc})
	}
	return spec, true
}

// --------------------------------------------------
// Registry
// --------------------------------------------------

// Registry holds declared schemas and their compiled document types.
// Registration is idempotent and memoized per type name, so repeated
// lookups are O(1) after the first. Safe for concurrent use; types are
// read-only once compiled.
type Registry struct {
	mu          sync.RWMutex
	schemas     map[string]*Schema
	types       map[string]*DocumentType
	collections map[string]string // collection name -> type name
}

func NewRegistry() *Registry {
	return &Registry{
		schemas:     make(map[string]*Schema),
		types:       make(map[string]*DocumentType),
		collections: make(map[string]string),
	}
}

// DefaultRegistry serves engines that are not handed an explicit registry.
var DefaultRegistry = NewRegistry()

// Register compiles a schema into a DocumentType. Registering the same
// schema again returns the memoized type; registering a different schema
// under an existing name is a SchemaError.
func (r *Registry) Register(s *Schema) (*DocumentType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.schemas[s.name]; ok {
		if existing != s {
			return nil, schemaErrorf(s.name, "type already registered with a different schema")
		}
		return r.types[s.name], nil
	}

	dt, err := r.compile(s)
	if err != nil {
		return nil, err
	}
	r.schemas[s.name] = s
	r.types[s.name] = dt
	if !dt.embedded {
		r.collections[dt.collection] = dt.name
	}
	return dt, nil
}

// MustRegister is Register for declarations known good at program start.
func (r *Registry) MustRegister(s *Schema) *DocumentType {
	dt, err := r.Register(s)
	if err != nil {
		panic(err)
	}
	return dt
}

// Lookup returns the compiled type for a registered name.
func (r *Registry) Lookup(name string) (*DocumentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.types[name]
	return dt, ok
}

func (r *Registry) lookup(name string) (*DocumentType, error) {
	r.mu.RLock()
	dt, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schemaErrorf(name, "type not registered yet")
	}
	return dt, nil
}

func (r *Registry) compile(s *Schema) (*DocumentType, error) {
	dt := &DocumentType{
		registry:     r,
		name:         s.name,
		embedded:     s.embedded,
		byName:       make(map[string]*Field),
		capped:       s.capped,
		timeseries:   s.timeseries,
		readConcern:  s.readConcern,
		writeConcern: s.writeConcern,
	}

	// Merge ancestor fields first; subtype declarations override on name
	// collision, keeping the ancestor's position.
	var merged []*Field
	index := make(map[string]int)
	add := func(f *Field) {
		if at, ok := index[f.name]; ok {
			merged[at] = f
			return
		}
		index[f.name] = len(merged)
		merged = append(merged, f)
	}
	for _, base := range s.bases {
		baseSchema, ok := r.schemas[base]
		if !ok {
			return nil, schemaErrorf(s.name, "base type %s not registered yet", base)
		}
		if baseSchema.embedded != s.embedded {
			return nil, schemaErrorf(s.name, "cannot extend %s across document kinds", base)
		}
		for _, f := range r.types[base].fields {
			add(f)
		}
	}
	for _, f := range s.fields {
		add(f)
	}

	// Id handling: standalone types get exactly one id field, synthesizing
	// an ObjectID one when nothing was declared. Embedded types have none.
	var idFields []*Field
	for _, f := range merged {
		if f.id {
			idFields = append(idFields, f)
		}
	}
	if s.embedded {
		if len(idFields) > 0 {
			return nil, schemaErrorf(s.name, "embedded type cannot declare an id field")
		}
	} else {
		switch len(idFields) {
		case 0:
			implicit := ObjectID("id", ID(), DefaultFunc(func() any { return primitive.NewObjectID() }))
			merged = append([]*Field{implicit}, merged...)
			idFields = append(idFields, implicit)
		case 1:
		default:
			names := make([]string, len(idFields))
			for i, f := range idFields {
				names[i] = f.name
			}
			return nil, schemaErrorf(s.name, "multiple id fields declared: %s", strings.Join(names, ", "))
		}
		if !idFields[0].HasDefault() {
			return nil, schemaErrorf(s.name, "id field %s must declare a default value or factory", idFields[0].name)
		}
		dt.idField = idFields[0]
	}

	// Reference fields store under their key name unless explicitly
	// aliased; every alias must be unique within the type. Embedding is
	// only legal for embedded schemas; a standalone type must be referenced
	// with Ref. Forward embedded targets are checked again on first use.
	aliases := make(map[string]string)
	for _, f := range merged {
		if name := embeddedTypeName(f.mapper); name != "" {
			if sub, ok := r.types[name]; ok && !sub.embedded {
				return nil, schemaErrorf(s.name, "field %s embeds standalone type %s, use Ref", f.name, name)
			}
		}
		if f.ref != nil && f.alias == "" {
			f.alias = f.ref.keyName
		}
		alias := f.Alias()
		if prev, ok := aliases[alias]; ok {
			return nil, schemaErrorf(s.name, "fields %s and %s resolve to the same storage alias %q", prev, f.name, alias)
		}
		aliases[alias] = f.name
		dt.byName[f.name] = f
		if f.ref != nil {
			dt.references = append(dt.references, f.ref)
		}
	}
	dt.fields = merged

	if !s.embedded {
		dt.collection = s.collection
		if dt.collection == "" {
			dt.collection = pluralize(strings.ToLower(s.name))
		}
		if owner, ok := r.collections[dt.collection]; ok && owner != s.name {
			return nil, schemaErrorf(s.name, "collection %q already used by type %s", dt.collection, owner)
		}
	}

	if dt.capped != nil && dt.timeseries != nil {
		return nil, schemaErrorf(s.name, "capped and time-series options are mutually exclusive")
	}
	if dt.timeseries != nil {
		for _, f := range merged {
			if f.timeField {
				dt.timeseries.TimeField = f.Alias()
			}
			if f.metaField {
				dt.timeseries.MetaField = f.Alias()
			}
		}
		if dt.timeseries.TimeField == "" {
			return nil, schemaErrorf(s.name, "time-series type needs a field flagged TimeField")
		}
	}

	return dt, nil
}

// embeddedTypeName extracts the embedded target of a field mapper, looking
// through list elements. Empty for non-embedded fields.
func embeddedTypeName(m mapper) string {
	if lm, ok := m.(*listMapper); ok {
		m = lm.inner
	}
	if em, ok := m.(*embeddedMapper); ok {
		return em.typeName
	}
	return ""
}

func pluralize(name string) string {
	switch {
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"),
		strings.HasSuffix(name, "z"), strings.HasSuffix(name, "ch"),
		strings.HasSuffix(name, "sh"):
		return name + "es"
	case strings.HasSuffix(name, "y") && len(name) > 1 && !strings.ContainsRune("aeiou", rune(name[len(name)-2])):
		return name[:len(name)-1] + "ies"
	default:
		return name + "s"
	}
}

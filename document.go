package mongotoy

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Document is one instance of a registered document type. Field values live
// in a name-keyed map; a missing key is the distinguished "unset" state,
// distinct from an explicit null. Unset fields are skipped by validation
// and, by default, omitted from persistence and export.
type Document struct {
	dt   *DocumentType
	data map[string]any
}

// New builds and validates an instance from field values keyed by declared
// name (storage aliases are accepted too). Defaults fill unset fields;
// validation faults accumulate across all fields into one ValidationError.
func (dt *DocumentType) New(data map[string]any) (*Document, error) {
	return dt.instantiate(data, true, false)
}

// Parse materializes an instance from a database record, accepting driver
// representations (datetimes, binaries) the write path would reject.
func (dt *DocumentType) Parse(data map[string]any) (*Document, error) {
	return dt.instantiate(data, true, true)
}

// Empty builds an instance with every field unset, skipping defaults.
func (dt *DocumentType) Empty() *Document {
	return &Document{dt: dt, data: make(map[string]any)}
}

func (dt *DocumentType) instantiate(data map[string]any, useDefaults, fromBSON bool) (*Document, error) {
	d := &Document{dt: dt, data: make(map[string]any, len(dt.fields))}
	pc := &parseContext{registry: dt.registry, fromBSON: fromBSON, useDefaults: useDefaults}

	var faults []FieldFault
	for _, f := range dt.fields {
		raw, present := data[f.Alias()]
		if !present {
			raw, present = data[f.name]
		}
		if !present && useDefaults && f.HasDefault() {
			raw = f.DefaultValue()
			present = true
		}
		if !present {
			continue
		}
		if raw == nil {
			if !f.nullable {
				faults = append(faults, FieldFault{Loc: []string{f.name}, Err: errNullValue})
				continue
			}
			d.data[f.name] = nil
			continue
		}
		value, err := f.mapper.Parse(pc, raw)
		if err != nil {
			faults = append(faults, itemFaults(f.name, err)...)
			continue
		}
		d.data[f.name] = value
	}

	if len(faults) > 0 {
		return nil, &ValidationError{Document: dt.name, Faults: faults}
	}
	return d, nil
}

var errNullValue = errString("null value not allowed")

type errString string

func (e errString) Error() string { return string(e) }

func (d *Document) Type() *DocumentType { return d.dt }

// Get returns a field value and whether the field is set.
func (d *Document) Get(name string) (any, bool) {
	v, ok := d.data[name]
	return v, ok
}

// MustGet returns a field value, or nil when unset.
func (d *Document) MustGet(name string) any {
	return d.data[name]
}

// Set validates and stores one field value. Setting nil on a non-nullable
// field is a ValidationError.
func (d *Document) Set(name string, value any) error {
	f, ok := d.dt.byName[name]
	if !ok {
		return schemaErrorf(d.dt.name, "field %s not declared", name)
	}
	if value == nil {
		if !f.nullable {
			return &ValidationError{Document: d.dt.name, Faults: []FieldFault{{Loc: []string{name}, Err: errNullValue}}}
		}
		d.data[name] = nil
		return nil
	}
	pc := &parseContext{registry: d.dt.registry, useDefaults: true}
	parsed, err := f.mapper.Parse(pc, value)
	if err != nil {
		return &ValidationError{Document: d.dt.name, Faults: itemFaults(name, err)}
	}
	d.data[name] = parsed
	return nil
}

// Unset removes a field value, returning it to the unset state.
func (d *Document) Unset(name string) {
	delete(d.data, name)
}

// ID returns the id field value, or nil for embedded documents.
func (d *Document) ID() any {
	if d.dt.idField == nil {
		return nil
	}
	return d.data[d.dt.idField.name]
}

// revalidate re-runs every set field through its mapper, accumulating
// faults, and fills the id from its default if it has been unset.
func (d *Document) revalidate() error {
	if d.dt.idField != nil {
		if _, ok := d.data[d.dt.idField.name]; !ok {
			d.data[d.dt.idField.name] = d.dt.idField.DefaultValue()
		}
	}
	pc := &parseContext{registry: d.dt.registry, useDefaults: true}
	var faults []FieldFault
	for _, f := range d.dt.fields {
		raw, ok := d.data[f.name]
		if !ok {
			continue
		}
		if raw == nil {
			if !f.nullable {
				faults = append(faults, FieldFault{Loc: []string{f.name}, Err: errNullValue})
			}
			continue
		}
		value, err := f.mapper.Parse(pc, raw)
		if err != nil {
			faults = append(faults, itemFaults(f.name, err)...)
			continue
		}
		d.data[f.name] = value
	}
	if len(faults) > 0 {
		return &ValidationError{Document: d.dt.name, Faults: faults}
	}
	return nil
}

// --------------------------------------------------
// Export
// --------------------------------------------------

// DumpOption adjusts an export call.
type DumpOption func(*dumpOptions)

// ByAlias keys the export by storage alias instead of declared name.
func ByAlias() DumpOption { return func(o *dumpOptions) { o.byAlias = true } }

// ByName keys the export by declared name (the BSON default is alias).
func ByName() DumpOption { return func(o *dumpOptions) { o.byAlias = false } }

// ExcludeEmpty omits unset fields from dict export (JSON and BSON export
// always omit them).
func ExcludeEmpty() DumpOption { return func(o *dumpOptions) { o.excludeEmpty = true } }

// ExcludeNull omits explicitly null fields.
func ExcludeNull() DumpOption { return func(o *dumpOptions) { o.excludeNull = true } }

// DumpDict exports the document as a plain key-value mapping with native Go
// values. Unset fields are included as nil unless ExcludeEmpty is given.
func (d *Document) DumpDict(opts ...DumpOption) map[string]any {
	o := dumpOptions{target: dumpDict}
	for _, opt := range opts {
		opt(&o)
	}
	return d.dump(o)
}

// DumpJSON exports a JSON-ready structure: identifiers as hex strings,
// times as RFC 3339, binary as base64. Unset fields are always omitted.
func (d *Document) DumpJSON(opts ...DumpOption) map[string]any {
	o := dumpOptions{target: dumpJSON, excludeEmpty: true}
	for _, opt := range opts {
		opt(&o)
	}
	o.excludeEmpty = true
	return d.dump(o)
}

// DumpBSON exports a BSON-ready record keyed by storage alias: reference
// fields serialize as their foreign key value only, embedded documents as
// nested structures. Unset fields are always omitted.
func (d *Document) DumpBSON(opts ...DumpOption) bson.M {
	o := dumpOptions{target: dumpBSON, byAlias: true, excludeEmpty: true}
	for _, opt := range opts {
		opt(&o)
	}
	o.excludeEmpty = true
	return bson.M(d.dump(o))
}

func (d *Document) dump(o dumpOptions) map[string]any {
	out := make(map[string]any, len(d.dt.fields))
	for _, f := range d.dt.fields {
		key := f.name
		if o.byAlias {
			key = f.Alias()
		}
		value, ok := d.data[f.name]
		if !ok {
			if !o.excludeEmpty {
				out[key] = nil
			}
			continue
		}
		if value == nil {
			if !o.excludeNull {
				out[key] = nil
			}
			continue
		}
		out[key] = f.mapper.Dump(value, o)
	}
	return out
}

package mongotoy

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Reference describes a field whose declared type is a standalone document
// type. The parent record stores only the foreign value, under KeyName; the
// referenced record lives in its own collection. The target type may be a
// forward or self reference, resolved lazily by name on first use.
type Reference struct {
	fieldName string
	typeName  string
	refField  string // "" means the target's id field
	keyName   string
	many      bool
}

func newReference(field, typeName, refField, keyName string, many bool) *Reference {
	if keyName == "" {
		suffix := refField
		if suffix == "" {
			suffix = "id"
		}
		keyName = field + "_" + suffix
	}
	return &Reference{
		fieldName: field,
		typeName:  typeName,
		refField:  refField,
		keyName:   keyName,
		many:      many,
	}
}

func (r *Reference) FieldName() string { return r.fieldName }
func (r *Reference) TypeName() string  { return r.typeName }

// KeyName is the storage key holding the foreign value.
func (r *Reference) KeyName() string { return r.keyName }

func (r *Reference) Many() bool { return r.many }

// Target resolves the referenced document type.
func (r *Reference) Target(registry *Registry) (*DocumentType, error) {
	dt, err := registry.lookup(r.typeName)
	if err != nil {
		return nil, err
	}
	if dt.embedded {
		return nil, schemaErrorf(r.typeName, "reference %s points at embedded type %s", r.fieldName, r.typeName)
	}
	return dt, nil
}

// TargetField resolves the referenced field the stored key points at.
func (r *Reference) TargetField(registry *Registry) (*Field, error) {
	dt, err := r.Target(registry)
	if err != nil {
		return nil, err
	}
	return dt.refTargetField(r.refField)
}

// --------------------------------------------------
// Dereferencing
// --------------------------------------------------

// dereference resolves the reference fields of doc down to the requested
// depth: 0 leaves raw keys untouched, n > 0 resolves exactly n levels, -1
// resolves every reachable reference. Already-resolved documents are reused
// through seen, which also bounds recursion on cyclic reference graphs. A
// referenced record that no longer exists leaves its field unset.
func (s *Session) dereference(ctx context.Context, doc *Document, depth int, seen map[string]*Document) error {
	if depth == 0 {
		return nil
	}
	next := depth
	if next > 0 {
		next--
	}

	for _, field := range doc.dt.fields {
		ref := field.ref
		if ref == nil {
			continue
		}
		value, ok := doc.data[field.name]
		if !ok || value == nil {
			continue
		}

		if ref.many {
			items, ok := value.([]any)
			if !ok {
				continue
			}
			resolved := make([]any, 0, len(items))
			for _, item := range items {
				out, found, err := s.resolveReference(ctx, ref, item, next, seen)
				if err != nil {
					return err
				}
				if found {
					resolved = append(resolved, out)
				}
			}
			doc.data[field.name] = resolved
			continue
		}

		out, found, err := s.resolveReference(ctx, ref, value, next, seen)
		if err != nil {
			return err
		}
		if !found {
			delete(doc.data, field.name)
			continue
		}
		doc.data[field.name] = out
	}
	return nil
}

func (s *Session) resolveReference(ctx context.Context, ref *Reference, value any, depth int, seen map[string]*Document) (any, bool, error) {
	// Already materialized: only descend for deeper levels.
	if sub, ok := value.(*Document); ok {
		return sub, true, s.dereference(ctx, sub, depth, seen)
	}

	target, err := ref.Target(s.engine.registry)
	if err != nil {
		return nil, false, err
	}
	refField, err := target.refTargetField(ref.refField)
	if err != nil {
		return nil, false, err
	}

	cacheKey := fmt.Sprintf("%s/%v", target.name, value)
	if cached, ok := seen[cacheKey]; ok {
		return cached, true, nil
	}

	filter := bson.M{refField.Alias(): bson.M{"$eq": refField.mapper.Dump(value, dumpOptions{target: dumpBSON})}}
	cur, err := s.engine.driver.Find(s.context(ctx), s.engine.database, target.collectionRef(), FindSpec{
		Filter: filter,
		Limit:  1,
	})
	if err != nil {
		return nil, false, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, false, err
		}
		// Dangling reference: defined edge case, not an error.
		return nil, false, nil
	}
	var raw bson.M
	if err := cur.Decode(&raw); err != nil {
		return nil, false, err
	}

	sub, err := target.Parse(map[string]any(raw))
	if err != nil {
		return nil, false, err
	}
	seen[cacheKey] = sub
	return sub, true, s.dereference(ctx, sub, depth, seen)
}

package mongotoy

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by single-result query accessors and the engine
// lifecycle. Wrap-aware callers should test them with errors.Is.
var (
	// ErrNoResult is returned by One and GetByID when nothing matched.
	ErrNoResult = errors.New("mongotoy: no document matched the query")

	// ErrManyResults is returned by single-result accessors when more than
	// one document matched.
	ErrManyResults = errors.New("mongotoy: more than one document matched the query")

	// ErrNotConnected is returned when an operation needs the engine to be
	// connected and Connect has not been called.
	ErrNotConnected = errors.New("mongotoy: engine not connected, call Connect first")
)

// SchemaError reports a bad type declaration: duplicate storage alias,
// missing id default, malformed reference and the like. It surfaces at
// registration time, before any instance exists, and is fatal to the type.
type SchemaError struct {
	Schema string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("mongotoy: invalid schema %s: %s", e.Schema, e.Reason)
}

func schemaErrorf(schema, format string, args ...any) *SchemaError {
	return &SchemaError{Schema: schema, Reason: fmt.Sprintf(format, args...)}
}

// FieldFault is one offending field inside a ValidationError. Loc is the
// path from the document root, crossing embedded document boundaries.
type FieldFault struct {
	Loc []string
	Err error
}

func (f FieldFault) Path() string { return strings.Join(f.Loc, ".") }

// ValidationError aggregates every field fault found while validating one
// document, rather than stopping at the first. It is always recoverable:
// catch, fix the offending fields, retry.
type ValidationError struct {
	Document string
	Faults   []FieldFault
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mongotoy: invalid data at document %s (%d fields)", e.Document, len(e.Faults))
	for _, f := range e.Faults {
		fmt.Fprintf(&b, "\n  - %s: %v", f.Path(), f.Err)
	}
	return b.String()
}

// Fields lists the dotted paths of every offending field, in fault order.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.Faults))
	for i, f := range e.Faults {
		out[i] = f.Path()
	}
	return out
}

// SessionError reports a lifecycle-violating session or transaction
// operation, such as saving on an ended session or double-committing.
type SessionError struct {
	Op     string
	Reason string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("mongotoy: %s: %s", e.Op, e.Reason)
}

func sessionErrorf(op, format string, args ...any) *SessionError {
	return &SessionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// EngineError reports a misconfigured or misused engine.
type EngineError struct {
	Reason string
}

func (e *EngineError) Error() string {
	return "mongotoy: " + e.Reason
}

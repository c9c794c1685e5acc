// The [mongotoy] package maps declared document types onto MongoDB
// collections.
//
// # Schemas and Documents
//
// Document types are declared as explicit schemas: an ordered list of typed
// fields plus collection-level configuration, registered once with a
// [Registry]. Instances are built with [DocumentType.New], which validates
// every supplied field and accumulates all faults into one
// [ValidationError]. A field that was never supplied is unset, which is a
// different state from an explicit null; unset fields are skipped by
// validation and omitted from persistence.
//
// # Queries
//
// Filters are immutable expression trees from the
// [github.com/gurcuff91/mongotoy/query] package, refined through a
// [QuerySet]. Building and refining a query set never touches the
// database; only terminal methods such as [QuerySet.All], [QuerySet.One]
// and [QuerySet.Count] execute.
//
// # Sessions
//
// All database work runs on a [Session] obtained from an [Engine]. Saving
// a document upserts it by id and can cascade through its references;
// deleting can cascade the same way. A session can carry one transaction at
// a time, committed or aborted exactly once.
//
// # Drivers
//
// The engine talks to storage through the [Driver] interface. The
// [github.com/gurcuff91/mongotoy/mongodb] package implements it on the
// official MongoDB driver and adds a GridFS-backed [FileStore] for
// file-typed fields.
package mongotoy

package model

// Operation is the kind of write a MutationEvent reports.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// MutationEvent describes a write that has already been committed to the
// document store. Before is the pre-mutation snapshot (nil on create) and After
// the post-mutation snapshot (nil on delete); relationship changes are read from
// the difference between the two.
type MutationEvent struct {
	Kind   string
	ID     string
	Op     Operation
	Before Document
	After  Document

	// Cascade holds child deletions performed as part of this event
	// (e.g. the books of a deleted author). They are processed first.
	Cascade []MutationEvent

	// Interrupted marks a write that failed after part of it committed.
	// Back-references may have moved without the document's own fields
	// changing, so every reference counts as changed.
	Interrupted bool
}

// Snapshots returns the non-nil Before and After documents.
func (e MutationEvent) Snapshots() []Document {
	docs := make([]Document, 0, 2)
	if e.Before != nil {
		docs = append(docs, e.Before)
	}
	if e.After != nil {
		docs = append(docs, e.After)
	}
	return docs
}

// RefChanged reports whether the reference stored in field differs between
// Before and After. Creates, deletes and interrupted writes always count as a
// change.
func (e MutationEvent) RefChanged(field string) bool {
	if e.Interrupted || e.Op != OpUpdate || e.Before == nil || e.After == nil {
		return true
	}
	return e.Before.String(field) != e.After.String(field)
}

// Refs returns the distinct non-empty values of field across Before and After.
func (e MutationEvent) Refs(field string) []string {
	var out []string
	for _, doc := range e.Snapshots() {
		ref := doc.String(field)
		if ref == "" {
			continue
		}
		if len(out) == 1 && out[0] == ref {
			continue
		}
		out = append(out, ref)
	}
	return out
}

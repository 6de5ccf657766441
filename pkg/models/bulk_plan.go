package models

import (
	"github.com/google/uuid"
)

// ParentRefKind classifies a line's declared parent reference relative to the
// batch it arrived in.
type ParentRefKind string

const (
	// ParentNone means no parent; the line sits at the root of the tree.
	ParentNone ParentRefKind = "none"
	// ParentImmediate references a line that already exists in storage in
	// the target version; the link is set during the primary write.
	ParentImmediate ParentRefKind = "immediate"
	// ParentPendingTemp references another batch item by placeholder token.
	// The link is deferred until the token has a real id.
	ParentPendingTemp ParentRefKind = "pending_temp"
	// ParentDeferredReal references a real id that does not exist yet
	// because it is also being created by this batch. The link is deferred
	// until after the create phase.
	ParentDeferredReal ParentRefKind = "deferred_real"
)

// ParentRef is a classified parent reference carried in a bulk plan.
type ParentRef struct {
	Kind      ParentRefKind
	Persisted uuid.UUID // set for ParentImmediate and ParentDeferredReal
	Pending   string    // set for ParentPendingTemp
}

// LineWrite is one row of a bulk plan. Temp carries the client placeholder
// token for created rows (empty otherwise) so the repository can record the
// token → real id mapping for parent fixups.
type LineWrite struct {
	Line   *BoqLine
	Temp   string
	Parent ParentRef
}

// BulkPlan is the fully validated, classified write set for one version,
// handed to the repository for a single-transaction 3-phase apply: creates,
// then updates, then deferred parent fixups.
type BulkPlan struct {
	ProjectID uuid.UUID
	VersionID uuid.UUID
	Creates   []*LineWrite
	Updates   []*LineWrite
}

// BulkResult reports how many rows a bulk apply created and updated. The
// caller re-fetches the row set if it needs full rows.
type BulkResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

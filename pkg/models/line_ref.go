package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix marks client-assigned placeholder identifiers for rows that
// have not been persisted yet. Placeholder ids exist only for the duration of
// one bulk call and are never stored.
const TempIDPrefix = "new_"

// LineRef is a reference to a BOQ line at the API boundary: either a
// persisted id, a client-side pending token, or absent. Decoding the string
// form happens exactly once, here; internal code never sniffs prefixes.
type LineRef struct {
	persisted uuid.UUID
	pending   string
}

// ParseLineRef decodes the wire form of a line reference. An empty string is
// the zero (absent) reference.
func ParseLineRef(s string) (LineRef, error) {
	if s == "" {
		return LineRef{}, nil
	}
	if strings.HasPrefix(s, TempIDPrefix) {
		return LineRef{pending: s}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return LineRef{}, fmt.Errorf("invalid line id %q", s)
	}
	return LineRef{persisted: id}, nil
}

// PersistedRef builds a reference to an already-persisted line.
func PersistedRef(id uuid.UUID) LineRef {
	return LineRef{persisted: id}
}

// IsZero reports whether the reference is absent.
func (r LineRef) IsZero() bool {
	return r.pending == "" && r.persisted == uuid.Nil
}

// IsPending reports whether the reference is a client-side placeholder.
func (r LineRef) IsPending() bool {
	return r.pending != ""
}

// IsPersisted reports whether the reference carries a real id.
func (r LineRef) IsPersisted() bool {
	return r.persisted != uuid.Nil
}

// Persisted returns the real id; only meaningful when IsPersisted.
func (r LineRef) Persisted() uuid.UUID {
	return r.persisted
}

// Pending returns the placeholder token; only meaningful when IsPending.
func (r LineRef) Pending() string {
	return r.pending
}

// String returns the wire form of the reference.
func (r LineRef) String() string {
	switch {
	case r.pending != "":
		return r.pending
	case r.persisted != uuid.Nil:
		return r.persisted.String()
	}
	return ""
}

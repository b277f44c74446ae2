// Package models defines the contact identity graph types. A ContactRecord is
// the only stored entity; an identity component is the set of records
// reachable from one primary via LinkedID.
package models

import (
	"time"
)

// Precedence marks a record's role inside its component.
type Precedence string

const (
	PrecedencePrimary   Precedence = "primary"
	PrecedenceSecondary Precedence = "secondary"
)

// ContactRecord is one observed contact row. Email and Phone are optional;
// LinkedID is set only on secondaries and always points directly at the
// component's current primary, never through another secondary.
type ContactRecord struct {
	ID         int64
	Email      *string
	Phone      *string
	LinkedID   *int64
	Precedence Precedence
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// IsPrimary reports whether the record heads its component.
func (c ContactRecord) IsPrimary() bool {
	return c.Precedence == PrecedencePrimary
}

// PrimaryID returns the id of the record's component primary: its own id for
// a primary, LinkedID for a secondary.
func (c ContactRecord) PrimaryID() int64 {
	if c.LinkedID != nil {
		return *c.LinkedID
	}
	return c.ID
}

// OlderThan orders records by creation time with id as the tiebreak. Used to
// elect the surviving primary during a merge.
func (c ContactRecord) OlderThan(other ContactRecord) bool {
	if c.CreatedAt.Equal(other.CreatedAt) {
		return c.ID < other.ID
	}
	return c.CreatedAt.Before(other.CreatedAt)
}

// Observation is the (email, phone) pair submitted to identify. At least one
// field must be present; Empty is checked by the service before anything else.
type Observation struct {
	Email *string
	Phone *string
}

// Empty reports whether the observation carries neither value.
func (o Observation) Empty() bool {
	return o.Email == nil && o.Phone == nil
}

// MatchesExactly reports whether the record holds exactly the observation's
// pair: same email or both absent, and same phone or both absent. Matching is
// case-sensitive; a nil field only matches an absent one.
func (o Observation) MatchesExactly(c ContactRecord) bool {
	return equalOptional(o.Email, c.Email) && equalOptional(o.Phone, c.Phone)
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// IdentityView is the externally visible consolidated identity: one canonical
// id plus every known contact method. Building it is deterministic for a given
// component state.
type IdentityView struct {
	PrimaryID    int64
	Emails       []string
	Phones       []string
	SecondaryIDs []int64
}

// StringPtr is a convenience for building optional fields.
func StringPtr(s string) *string { return &s }

// Package classify decides how an observation relates to the records already
// touching its email or phone. It is pure: candidates come in, a strategy
// comes out, and the store is never consulted.
package classify

import (
	"conflux/internal/identity/models"
)

// Strategy is the closed set of outcomes classification can reach.
type Strategy int

const (
	// CreateNewIdentity: the observation matches nothing on record.
	CreateNewIdentity Strategy = iota
	// NoOp: an existing record holds exactly the observation's pair; nothing
	// new is learned and nothing is written.
	NoOp
	// ExtendIdentity: all candidates belong to one component and the
	// observation adds a new email/phone combination to it.
	ExtendIdentity
	// MergeIdentities: the observation's email and phone belong to two
	// different components, which must become one.
	MergeIdentities
)

func (s Strategy) String() string {
	switch s {
	case CreateNewIdentity:
		return "create_new_identity"
	case NoOp:
		return "no_op"
	case ExtendIdentity:
		return "extend_identity"
	case MergeIdentities:
		return "merge_identities"
	default:
		return "unknown"
	}
}

// Classify picks the strategy for an observation given every non-deleted
// record matching its email or phone.
//
// Precondition: the observation has at least one field set; the caller
// enforces this before classification, so it is not re-validated here.
//
// Decision order matters: an exact match is a NoOp even when the candidate set
// would otherwise look mergeable, and distinct components are counted by
// resolved primary id so that two secondaries of different components still
// trigger a merge.
func Classify(candidates []models.ContactRecord, obs models.Observation) Strategy {
	if len(candidates) == 0 {
		return CreateNewIdentity
	}

	for _, c := range candidates {
		if obs.MatchesExactly(c) {
			return NoOp
		}
	}

	if countComponents(candidates) > 1 {
		return MergeIdentities
	}

	return ExtendIdentity
}

func countComponents(candidates []models.ContactRecord) int {
	primaries := make(map[int64]struct{}, len(candidates))
	for _, c := range candidates {
		primaries[c.PrimaryID()] = struct{}{}
	}
	return len(primaries)
}

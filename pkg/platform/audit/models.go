// Package audit emits identity-graph change events for downstream analytics
// and compliance pipelines. Events are operational: publishing failures are
// logged and never fail the identify request that produced them.
package audit

import (
	"context"
	"time"
)

// Action names the identity-graph mutation an event describes.
type Action string

const (
	// ActionIdentityCreated fires when an observation matched nothing and a
	// new primary contact was created.
	ActionIdentityCreated Action = "identity_created"

	// ActionIdentityExtended fires when an observation added a new secondary
	// contact to an existing identity.
	ActionIdentityExtended Action = "identity_extended"

	// ActionIdentitiesMerged fires when an observation bridged two or more
	// previously distinct identities.
	ActionIdentitiesMerged Action = "identities_merged"
)

// Event captures one identity-graph change. Keep it transport-agnostic so
// sinks can fan out; contact values are intentionally absent to keep PII out
// of the audit stream.
type Event struct {
	Action           Action    `json:"action"`
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id,omitempty"`
	PrimaryContactID int64     `json:"primary_contact_id"`
	// CreatedContactID is the record inserted by this operation, when any.
	CreatedContactID int64 `json:"created_contact_id,omitempty"`
	// AbsorbedPrimaryIDs lists primaries demoted to secondary by a merge.
	AbsorbedPrimaryIDs []int64 `json:"absorbed_primary_ids,omitempty"`
}

// Publisher is implemented by audit sinks.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

package service

import (
	"context"
	"fmt"
	"sort"

	"conflux/internal/identity/classify"
	"conflux/internal/identity/models"
	"conflux/internal/identity/store"
	dErrors "conflux/pkg/domain-errors"
)

// executor applies a classified strategy's mutations against a contact store.
// For ExtendIdentity and MergeIdentities the caller supplies a transactional
// store, so a failed step leaves nothing behind.
type executor struct {
	contacts store.ContactStore
}

// executeResult carries the refreshed component plus what changed, so the
// service can audit without re-deriving it.
type executeResult struct {
	component       []models.ContactRecord
	createdID       int64
	absorbedPrimary []int64
}

func (e *executor) execute(ctx context.Context, strategy classify.Strategy, candidates []models.ContactRecord, obs models.Observation) (executeResult, error) {
	switch strategy {
	case classify.CreateNewIdentity:
		return e.createNewIdentity(ctx, obs)
	case classify.NoOp:
		return e.noOp(ctx, candidates, obs)
	case classify.ExtendIdentity:
		return e.extendIdentity(ctx, candidates, obs)
	case classify.MergeIdentities:
		return e.mergeIdentities(ctx, candidates, obs)
	default:
		return executeResult{}, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("unknown strategy %d", strategy))
	}
}

func (e *executor) createNewIdentity(ctx context.Context, obs models.Observation) (executeResult, error) {
	created, err := e.contacts.Create(ctx, models.ContactRecord{
		Email:      obs.Email,
		Phone:      obs.Phone,
		Precedence: models.PrecedencePrimary,
	})
	if err != nil {
		return executeResult{}, storeFailure(err, "create primary contact")
	}
	return executeResult{component: []models.ContactRecord{created}, createdID: created.ID}, nil
}

func (e *executor) noOp(ctx context.Context, candidates []models.ContactRecord, obs models.Observation) (executeResult, error) {
	for _, c := range candidates {
		if !obs.MatchesExactly(c) {
			continue
		}
		component, err := e.contacts.FindComponent(ctx, c.PrimaryID())
		if err != nil {
			return executeResult{}, storeFailure(err, "load component")
		}
		return executeResult{component: component}, nil
	}
	// classification said NoOp, so an exact match must exist
	return executeResult{}, dErrors.New(dErrors.CodeInvariantViolation, "no exact match among no-op candidates")
}

func (e *executor) extendIdentity(ctx context.Context, candidates []models.ContactRecord, obs models.Observation) (executeResult, error) {
	primary, err := e.componentPrimary(ctx, candidates)
	if err != nil {
		return executeResult{}, err
	}

	created, err := e.contacts.Create(ctx, models.ContactRecord{
		Email:      obs.Email,
		Phone:      obs.Phone,
		Precedence: models.PrecedenceSecondary,
		LinkedID:   &primary.ID,
	})
	if err != nil {
		return executeResult{}, storeFailure(err, "create secondary contact")
	}

	component, err := e.contacts.FindComponent(ctx, primary.ID)
	if err != nil {
		return executeResult{}, storeFailure(err, "load component")
	}
	return executeResult{component: component, createdID: created.ID}, nil
}

func (e *executor) mergeIdentities(ctx context.Context, candidates []models.ContactRecord, obs models.Observation) (executeResult, error) {
	primaries, err := e.distinctPrimaries(ctx, candidates)
	if err != nil {
		return executeResult{}, err
	}
	if len(primaries) < 2 {
		return executeResult{}, dErrors.New(dErrors.CodeInvariantViolation, "merge classified with fewer than two components")
	}

	surviving := primaries[0]
	for _, p := range primaries[1:] {
		if p.OlderThan(surviving) {
			surviving = p
		}
	}

	var absorbed []int64
	for _, loser := range primaries {
		if loser.ID == surviving.ID {
			continue
		}
		if err := e.absorb(ctx, loser, surviving); err != nil {
			return executeResult{}, err
		}
		absorbed = append(absorbed, loser.ID)
	}
	sort.Slice(absorbed, func(i, j int) bool { return absorbed[i] < absorbed[j] })

	created, err := e.contacts.Create(ctx, models.ContactRecord{
		Email:      obs.Email,
		Phone:      obs.Phone,
		Precedence: models.PrecedenceSecondary,
		LinkedID:   &surviving.ID,
	})
	if err != nil {
		return executeResult{}, storeFailure(err, "create secondary contact")
	}

	component, err := e.contacts.FindComponent(ctx, surviving.ID)
	if err != nil {
		return executeResult{}, storeFailure(err, "load component")
	}
	return executeResult{component: component, createdID: created.ID, absorbedPrimary: absorbed}, nil
}

// absorb demotes a losing primary and repoints its secondaries directly at
// the surviving primary, keeping links one hop deep.
func (e *executor) absorb(ctx context.Context, loser, surviving models.ContactRecord) error {
	members, err := e.contacts.FindComponent(ctx, loser.ID)
	if err != nil {
		return storeFailure(err, "load losing component")
	}

	secondary := models.PrecedenceSecondary
	if _, err := e.contacts.Update(ctx, loser.ID, store.UpdateFields{
		Precedence: &secondary,
		LinkedID:   &surviving.ID,
	}, &loser.UpdatedAt); err != nil {
		return storeFailure(err, "demote losing primary")
	}

	var secondaryIDs []int64
	for _, m := range members {
		if m.ID != loser.ID {
			secondaryIDs = append(secondaryIDs, m.ID)
		}
	}
	if len(secondaryIDs) == 0 {
		return nil
	}

	if relinker, ok := e.contacts.(store.SecondaryRelinker); ok {
		if err := relinker.RelinkSecondaries(ctx, secondaryIDs, surviving.ID); err != nil {
			return storeFailure(err, "relink secondaries")
		}
		return nil
	}
	for _, id := range secondaryIDs {
		if _, err := e.contacts.Update(ctx, id, store.UpdateFields{LinkedID: &surviving.ID}, nil); err != nil {
			return storeFailure(err, "relink secondary")
		}
	}
	return nil
}

// componentPrimary finds the single primary behind a candidate set. Candidate
// sets holding only secondaries should not reach here, but resolving through
// the store defends against it.
func (e *executor) componentPrimary(ctx context.Context, candidates []models.ContactRecord) (models.ContactRecord, error) {
	for _, c := range candidates {
		if c.IsPrimary() {
			return c, nil
		}
	}
	if len(candidates) == 0 {
		return models.ContactRecord{}, dErrors.New(dErrors.CodeInvariantViolation, "extend classified with no candidates")
	}
	primary, err := e.contacts.ResolvePrimary(ctx, candidates[0].ID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return models.ContactRecord{}, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "secondary has no resolvable primary")
		}
		return models.ContactRecord{}, storeFailure(err, "resolve primary")
	}
	return primary, nil
}

// distinctPrimaries resolves every component represented in the candidate
// set, returning one primary record per component.
func (e *executor) distinctPrimaries(ctx context.Context, candidates []models.ContactRecord) ([]models.ContactRecord, error) {
	seen := make(map[int64]struct{}, len(candidates))
	var primaries []models.ContactRecord
	for _, c := range candidates {
		pid := c.PrimaryID()
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}

		if c.IsPrimary() {
			primaries = append(primaries, c)
			continue
		}
		primary, err := e.contacts.ResolvePrimary(ctx, c.ID)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "secondary has no resolvable primary")
			}
			return nil, storeFailure(err, "resolve primary")
		}
		primaries = append(primaries, primary)
	}
	return primaries, nil
}

// storeFailure tags a store error without masking codes the store already
// assigned (conflict, not found).
func storeFailure(err error, msg string) error {
	if dErrors.HasCode(err, dErrors.CodeConflict) ||
		dErrors.HasCode(err, dErrors.CodeNotFound) ||
		dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

package service

import (
	"sort"

	"conflux/internal/identity/models"
	dErrors "conflux/pkg/domain-errors"
)

// buildView flattens a component into the externally visible identity. The
// function is pure and deterministic: the primary's values lead each list,
// secondaries follow in ascending id order, duplicates and nils are skipped.
func buildView(component []models.ContactRecord) (models.IdentityView, error) {
	var primary *models.ContactRecord
	secondaries := make([]models.ContactRecord, 0, len(component))

	for i := range component {
		rec := component[i]
		if rec.IsPrimary() {
			if primary != nil {
				return models.IdentityView{}, dErrors.New(dErrors.CodeInvariantViolation, "component holds more than one primary")
			}
			primary = &rec
			continue
		}
		secondaries = append(secondaries, rec)
	}
	if primary == nil {
		return models.IdentityView{}, dErrors.New(dErrors.CodeInvariantViolation, "component holds no primary")
	}

	sort.Slice(secondaries, func(i, j int) bool { return secondaries[i].ID < secondaries[j].ID })

	view := models.IdentityView{
		PrimaryID:    primary.ID,
		Emails:       []string{},
		Phones:       []string{},
		SecondaryIDs: make([]int64, 0, len(secondaries)),
	}

	seenEmails := make(map[string]struct{})
	seenPhones := make(map[string]struct{})
	appendValues := func(rec models.ContactRecord) {
		if rec.Email != nil {
			if _, ok := seenEmails[*rec.Email]; !ok {
				seenEmails[*rec.Email] = struct{}{}
				view.Emails = append(view.Emails, *rec.Email)
			}
		}
		if rec.Phone != nil {
			if _, ok := seenPhones[*rec.Phone]; !ok {
				seenPhones[*rec.Phone] = struct{}{}
				view.Phones = append(view.Phones, *rec.Phone)
			}
		}
	}

	appendValues(*primary)
	for _, sec := range secondaries {
		appendValues(sec)
		view.SecondaryIDs = append(view.SecondaryIDs, sec.ID)
	}
	return view, nil
}

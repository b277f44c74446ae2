package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conflux/internal/identity/models"
	dErrors "conflux/pkg/domain-errors"
)

func rec(id int64, prec models.Precedence, email, phone string, linkedTo int64) models.ContactRecord {
	r := models.ContactRecord{
		ID:         id,
		Precedence: prec,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
	}
	if email != "" {
		r.Email = models.StringPtr(email)
	}
	if phone != "" {
		r.Phone = models.StringPtr(phone)
	}
	if linkedTo != 0 {
		r.LinkedID = &linkedTo
	}
	return r
}

func TestBuildView(t *testing.T) {
	t.Run("single primary", func(t *testing.T) {
		view, err := buildView([]models.ContactRecord{
			rec(1, models.PrecedencePrimary, "a@x.com", "", 0),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), view.PrimaryID)
		assert.Equal(t, []string{"a@x.com"}, view.Emails)
		assert.Empty(t, view.Phones)
		assert.Empty(t, view.SecondaryIDs)
	})

	t.Run("primary values lead, secondaries follow in id order", func(t *testing.T) {
		view, err := buildView([]models.ContactRecord{
			// deliberately out of order
			rec(5, models.PrecedenceSecondary, "c@x.com", "333", 1),
			rec(1, models.PrecedencePrimary, "a@x.com", "111", 0),
			rec(3, models.PrecedenceSecondary, "b@x.com", "222", 1),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), view.PrimaryID)
		assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, view.Emails)
		assert.Equal(t, []string{"111", "222", "333"}, view.Phones)
		assert.Equal(t, []int64{3, 5}, view.SecondaryIDs)
	})

	t.Run("duplicates and nils are skipped", func(t *testing.T) {
		view, err := buildView([]models.ContactRecord{
			rec(1, models.PrecedencePrimary, "a@x.com", "", 0),
			rec(2, models.PrecedenceSecondary, "a@x.com", "111", 1),
			rec(3, models.PrecedenceSecondary, "", "111", 1),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x.com"}, view.Emails)
		assert.Equal(t, []string{"111"}, view.Phones)
		assert.Equal(t, []int64{2, 3}, view.SecondaryIDs)
	})

	t.Run("deterministic across input orderings", func(t *testing.T) {
		component := []models.ContactRecord{
			rec(1, models.PrecedencePrimary, "a@x.com", "111", 0),
			rec(2, models.PrecedenceSecondary, "b@x.com", "", 1),
			rec(4, models.PrecedenceSecondary, "", "222", 1),
		}
		first, err := buildView(component)
		require.NoError(t, err)

		reversed := []models.ContactRecord{component[2], component[1], component[0]}
		second, err := buildView(reversed)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("no primary is an invariant violation", func(t *testing.T) {
		_, err := buildView([]models.ContactRecord{
			rec(2, models.PrecedenceSecondary, "a@x.com", "", 1),
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("two primaries is an invariant violation", func(t *testing.T) {
		_, err := buildView([]models.ContactRecord{
			rec(1, models.PrecedencePrimary, "a@x.com", "", 0),
			rec(2, models.PrecedencePrimary, "b@x.com", "", 0),
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"conflux/internal/identity/models"
	"conflux/internal/identity/store"
	"conflux/internal/identity/store/postgres"
	dErrors "conflux/pkg/domain-errors"
	"conflux/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.postgres.DB))
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "contacts"))
}

func (s *PostgresStoreSuite) createPrimary(email, phone string) models.ContactRecord {
	rec := models.ContactRecord{Precedence: models.PrecedencePrimary}
	if email != "" {
		rec.Email = models.StringPtr(email)
	}
	if phone != "" {
		rec.Phone = models.StringPtr(phone)
	}
	created, err := s.store.Create(context.Background(), rec)
	s.Require().NoError(err)
	return created
}

func (s *PostgresStoreSuite) createSecondary(primaryID int64, email, phone string) models.ContactRecord {
	rec := models.ContactRecord{
		Precedence: models.PrecedenceSecondary,
		LinkedID:   &primaryID,
	}
	if email != "" {
		rec.Email = models.StringPtr(email)
	}
	if phone != "" {
		rec.Phone = models.StringPtr(phone)
	}
	created, err := s.store.Create(context.Background(), rec)
	s.Require().NoError(err)
	return created
}

func (s *PostgresStoreSuite) TestCreateAssignsMonotonicIDs() {
	first := s.createPrimary("a@x.com", "")
	second := s.createPrimary("b@x.com", "")
	s.Greater(second.ID, first.ID)
	s.False(first.CreatedAt.IsZero())
	s.True(first.CreatedAt.Equal(first.UpdatedAt))
}

func (s *PostgresStoreSuite) TestFindByEmailOrPhone() {
	ctx := context.Background()
	p := s.createPrimary("a@x.com", "111")
	s.createPrimary("b@x.com", "222")

	byEmail, err := s.store.FindByEmailOrPhone(ctx, models.StringPtr("a@x.com"), nil)
	s.Require().NoError(err)
	s.Require().Len(byEmail, 1)
	s.Equal(p.ID, byEmail[0].ID)

	byEither, err := s.store.FindByEmailOrPhone(ctx, models.StringPtr("a@x.com"), models.StringPtr("222"))
	s.Require().NoError(err)
	s.Len(byEither, 2)

	none, err := s.store.FindByEmailOrPhone(ctx, models.StringPtr("missing@x.com"), nil)
	s.Require().NoError(err)
	s.Empty(none)

	// matching is case-sensitive
	upper, err := s.store.FindByEmailOrPhone(ctx, models.StringPtr("A@x.com"), nil)
	s.Require().NoError(err)
	s.Empty(upper)
}

func (s *PostgresStoreSuite) TestFindComponent() {
	ctx := context.Background()
	p := s.createPrimary("a@x.com", "")
	sec1 := s.createSecondary(p.ID, "", "111")
	sec2 := s.createSecondary(p.ID, "", "222")
	s.createPrimary("other@x.com", "")

	component, err := s.store.FindComponent(ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(component, 3)
	// ordered by id ascending
	s.Equal(p.ID, component[0].ID)
	s.Equal(sec1.ID, component[1].ID)
	s.Equal(sec2.ID, component[2].ID)
}

func (s *PostgresStoreSuite) TestResolvePrimary() {
	ctx := context.Background()
	p := s.createPrimary("a@x.com", "")
	sec := s.createSecondary(p.ID, "", "111")

	viaSecondary, err := s.store.ResolvePrimary(ctx, sec.ID)
	s.Require().NoError(err)
	s.Equal(p.ID, viaSecondary.ID)

	viaSelf, err := s.store.ResolvePrimary(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.ID, viaSelf.ID)

	_, err = s.store.ResolvePrimary(ctx, 9999)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *PostgresStoreSuite) TestUpdateDemotesPrimary() {
	ctx := context.Background()
	survivor := s.createPrimary("a@x.com", "")
	loser := s.createPrimary("b@x.com", "")

	secondary := models.PrecedenceSecondary
	updated, err := s.store.Update(ctx, loser.ID, store.UpdateFields{
		Precedence: &secondary,
		LinkedID:   &survivor.ID,
	}, &loser.UpdatedAt)
	s.Require().NoError(err)
	s.Equal(models.PrecedenceSecondary, updated.Precedence)
	s.Require().NotNil(updated.LinkedID)
	s.Equal(survivor.ID, *updated.LinkedID)
	s.True(updated.UpdatedAt.After(loser.UpdatedAt))
}

func (s *PostgresStoreSuite) TestUpdateOptimisticConflict() {
	ctx := context.Background()
	p := s.createPrimary("a@x.com", "")

	stale := p.UpdatedAt.Add(-time.Minute)
	secondary := models.PrecedenceSecondary
	_, err := s.store.Update(ctx, p.ID, store.UpdateFields{Precedence: &secondary}, &stale)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.store.Update(ctx, 9999, store.UpdateFields{Precedence: &secondary}, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *PostgresStoreSuite) TestRelinkSecondaries() {
	ctx := context.Background()
	survivor := s.createPrimary("a@x.com", "")
	loser := s.createPrimary("b@x.com", "")
	sec1 := s.createSecondary(loser.ID, "", "111")
	sec2 := s.createSecondary(loser.ID, "", "222")

	err := s.store.RelinkSecondaries(ctx, []int64{sec1.ID, sec2.ID}, survivor.ID)
	s.Require().NoError(err)

	component, err := s.store.FindComponent(ctx, survivor.ID)
	s.Require().NoError(err)
	s.Len(component, 3)

	// a missing id makes the affected count disagree
	err = s.store.RelinkSecondaries(ctx, []int64{sec1.ID, 9999}, survivor.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *PostgresStoreSuite) TestRunInTxRollsBackOnError() {
	ctx := context.Background()
	boom := dErrors.New(dErrors.CodeInternal, "boom")

	err := s.store.RunInTx(ctx, func(tx store.ContactStore) error {
		_, err := tx.Create(ctx, models.ContactRecord{
			Email:      models.StringPtr("ghost@x.com"),
			Precedence: models.PrecedencePrimary,
		})
		s.Require().NoError(err)
		return boom
	})
	s.Require().ErrorIs(err, boom)

	found, err := s.store.FindByEmailOrPhone(ctx, models.StringPtr("ghost@x.com"), nil)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *PostgresStoreSuite) TestRunInTxCommits() {
	ctx := context.Background()
	err := s.store.RunInTx(ctx, func(tx store.ContactStore) error {
		_, err := tx.Create(ctx, models.ContactRecord{
			Email:      models.StringPtr("kept@x.com"),
			Precedence: models.PrecedencePrimary,
		})
		return err
	})
	s.Require().NoError(err)

	found, err := s.store.FindByEmailOrPhone(ctx, models.StringPtr("kept@x.com"), nil)
	s.Require().NoError(err)
	s.Len(found, 1)
}

func (s *PostgresStoreSuite) TestConcurrentUpdatesSingleWinner() {
	ctx := context.Background()
	survivor := s.createPrimary("a@x.com", "")
	loser := s.createPrimary("b@x.com", "")

	const goroutines = 10
	var wg sync.WaitGroup
	results := make([]error, goroutines)
	secondary := models.PrecedenceSecondary
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.store.Update(ctx, loser.ID, store.UpdateFields{
				Precedence: &secondary,
				LinkedID:   &survivor.ID,
			}, &loser.UpdatedAt)
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case dErrors.HasCode(err, dErrors.CodeConflict):
			conflicts++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, successes, "exactly one stale-timestamp update should win")
	s.Equal(goroutines-1, conflicts)
}

// Package memory provides the in-memory contact store used in dev mode and
// unit tests. It favors clarity over performance.
package memory

import (
	"context"
	"sync"
	"time"

	"conflux/internal/identity/models"
	"conflux/internal/identity/store"
	dErrors "conflux/pkg/domain-errors"
)

// Store keeps contact records in a map guarded by one mutex. RunInTx holds
// the mutex for the whole transaction, so a transaction sees no interleaved
// writes and rolls back by restoring a snapshot.
type Store struct {
	mu    sync.Mutex
	state *state
	clock func() time.Time
}

type state struct {
	contacts map[int64]models.ContactRecord
	nextID   int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the timestamp source for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		state: &state{contacts: make(map[int64]models.ContactRecord)},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) FindByEmailOrPhone(_ context.Context, email, phone *string) ([]models.ContactRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.findByEmailOrPhone(email, phone), nil
}

func (s *Store) FindComponent(_ context.Context, primaryID int64) ([]models.ContactRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.findComponent(primaryID), nil
}

func (s *Store) ResolvePrimary(_ context.Context, recordID int64) (models.ContactRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.resolvePrimary(recordID)
}

func (s *Store) Create(_ context.Context, rec models.ContactRecord) (models.ContactRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.create(rec, s.clock()), nil
}

func (s *Store) Update(_ context.Context, id int64, fields store.UpdateFields, expectedUpdatedAt *time.Time) (models.ContactRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.update(id, fields, expectedUpdatedAt, s.clock())
}

func (s *Store) RelinkSecondaries(_ context.Context, ids []int64, primaryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.relinkSecondaries(ids, primaryID, s.clock())
}

// RunInTx executes fn against a view of the store that bypasses the mutex
// (which is held for the duration). On error the pre-transaction snapshot is
// restored, so partial mutations are never observable.
func (s *Store) RunInTx(ctx context.Context, fn func(store.ContactStore) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&txView{state: s.state, clock: s.clock}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// SoftDelete hides a record from every query. The linking engine never calls
// this; it exists for operational tooling and tests of the visibility rules.
func (s *Store) SoftDelete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.contacts[id]
	if !ok || rec.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := s.clock()
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	s.state.contacts[id] = rec
	return nil
}

// txView exposes state operations without locking; RunInTx already holds the
// store mutex.
type txView struct {
	state *state
	clock func() time.Time
}

func (t *txView) FindByEmailOrPhone(_ context.Context, email, phone *string) ([]models.ContactRecord, error) {
	return t.state.findByEmailOrPhone(email, phone), nil
}

func (t *txView) FindComponent(_ context.Context, primaryID int64) ([]models.ContactRecord, error) {
	return t.state.findComponent(primaryID), nil
}

func (t *txView) ResolvePrimary(_ context.Context, recordID int64) (models.ContactRecord, error) {
	return t.state.resolvePrimary(recordID)
}

func (t *txView) Create(_ context.Context, rec models.ContactRecord) (models.ContactRecord, error) {
	return t.state.create(rec, t.clock()), nil
}

func (t *txView) Update(_ context.Context, id int64, fields store.UpdateFields, expectedUpdatedAt *time.Time) (models.ContactRecord, error) {
	return t.state.update(id, fields, expectedUpdatedAt, t.clock())
}

func (t *txView) RelinkSecondaries(_ context.Context, ids []int64, primaryID int64) error {
	return t.state.relinkSecondaries(ids, primaryID, t.clock())
}

func (st *state) clone() *state {
	contacts := make(map[int64]models.ContactRecord, len(st.contacts))
	for id, rec := range st.contacts {
		contacts[id] = rec
	}
	return &state{contacts: contacts, nextID: st.nextID}
}

func (st *state) findByEmailOrPhone(email, phone *string) []models.ContactRecord {
	var out []models.ContactRecord
	for _, rec := range st.contacts {
		if rec.DeletedAt != nil {
			continue
		}
		if email != nil && rec.Email != nil && *rec.Email == *email {
			out = append(out, rec)
			continue
		}
		if phone != nil && rec.Phone != nil && *rec.Phone == *phone {
			out = append(out, rec)
		}
	}
	return out
}

func (st *state) findComponent(primaryID int64) []models.ContactRecord {
	var out []models.ContactRecord
	for _, rec := range st.contacts {
		if rec.DeletedAt != nil {
			continue
		}
		if rec.ID == primaryID || (rec.LinkedID != nil && *rec.LinkedID == primaryID) {
			out = append(out, rec)
		}
	}
	return out
}

func (st *state) resolvePrimary(recordID int64) (models.ContactRecord, error) {
	rec, ok := st.contacts[recordID]
	if !ok || rec.DeletedAt != nil {
		return models.ContactRecord{}, store.ErrNotFound
	}
	if rec.LinkedID == nil {
		return rec, nil
	}
	primary, ok := st.contacts[*rec.LinkedID]
	if !ok || primary.DeletedAt != nil {
		return models.ContactRecord{}, store.ErrNotFound
	}
	return primary, nil
}

func (st *state) create(rec models.ContactRecord, now time.Time) models.ContactRecord {
	st.nextID++
	rec.ID = st.nextID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	st.contacts[rec.ID] = rec
	return rec
}

func (st *state) update(id int64, fields store.UpdateFields, expectedUpdatedAt *time.Time, now time.Time) (models.ContactRecord, error) {
	rec, ok := st.contacts[id]
	if !ok || rec.DeletedAt != nil {
		return models.ContactRecord{}, store.ErrNotFound
	}
	if expectedUpdatedAt != nil && !rec.UpdatedAt.Equal(*expectedUpdatedAt) {
		return models.ContactRecord{}, store.ErrConflict
	}
	if fields.Precedence != nil {
		rec.Precedence = *fields.Precedence
	}
	if fields.LinkedID != nil {
		linked := *fields.LinkedID
		rec.LinkedID = &linked
	}
	rec.UpdatedAt = now
	st.contacts[id] = rec
	return rec, nil
}

func (st *state) relinkSecondaries(ids []int64, primaryID int64, now time.Time) error {
	for _, id := range ids {
		rec, ok := st.contacts[id]
		if !ok || rec.DeletedAt != nil {
			return store.ErrNotFound
		}
		linked := primaryID
		rec.LinkedID = &linked
		rec.UpdatedAt = now
		st.contacts[id] = rec
	}
	return nil
}

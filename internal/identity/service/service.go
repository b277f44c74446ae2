// Package service implements the contact linking engine: given an observed
// email and phone it decides how the observation relates to known identities
// and applies the minimal mutations keeping the identity graph consistent.
package service

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"conflux/internal/identity/classify"
	"conflux/internal/identity/locks"
	"conflux/internal/identity/metrics"
	"conflux/internal/identity/models"
	"conflux/internal/identity/store"
	"conflux/internal/platform/middleware"
	dErrors "conflux/pkg/domain-errors"
	"conflux/pkg/platform/audit"
	stringsx "conflux/pkg/platform/strings"
)

// maxLockAttempts bounds the re-resolve loop when the primary set shifts
// between key derivation and lock acquisition.
const maxLockAttempts = 3

var tracer = otel.Tracer("conflux/internal/identity/service")

// Service coordinates locking, classification, execution and serialization
// for identify requests. The contact store is the only shared mutable state;
// every mutation runs inside the store's transaction under the key locks.
type Service struct {
	contacts store.ContactStore
	tx       store.TxRunner
	locker   locks.Locker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	auditor  audit.Publisher
	clock    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditor attaches an audit event publisher.
func WithAuditor(a audit.Publisher) Option {
	return func(s *Service) {
		if a != nil {
			s.auditor = a
		}
	}
}

// WithClock sets the timestamp source for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates the linking engine. The store passed as contacts and the tx
// runner are expected to be the same backend.
func New(contacts store.ContactStore, tx store.TxRunner, locker locks.Locker, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		contacts: contacts,
		tx:       tx,
		locker:   locker,
		logger:   logger,
		auditor:  audit.NoopPublisher{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identify resolves an observation to its consolidated identity, creating,
// extending or merging components as needed. It is idempotent: repeating an
// observation never writes a second time.
func (s *Service) Identify(ctx context.Context, obs models.Observation) (models.IdentityView, error) {
	if obs.Empty() {
		return models.IdentityView{}, dErrors.New(dErrors.CodeBadRequest, "at least one of email or phone number is required")
	}

	ctx, span := tracer.Start(ctx, "identity.Identify")
	defer span.End()
	start := s.clock()

	release, err := s.acquireScope(ctx, obs)
	if err != nil {
		return models.IdentityView{}, err
	}
	defer release()

	var (
		result   executeResult
		strategy classify.Strategy
	)
	err = s.tx.RunInTx(ctx, func(tx store.ContactStore) error {
		candidates, err := tx.FindByEmailOrPhone(ctx, obs.Email, obs.Phone)
		if err != nil {
			return storeFailure(err, "load candidates")
		}
		strategy = classify.Classify(candidates, obs)
		exec := &executor{contacts: tx}
		result, err = exec.execute(ctx, strategy, candidates, obs)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "identify failed",
			"strategy", strategy.String(),
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		return models.IdentityView{}, err
	}

	view, err := buildView(result.component)
	if err != nil {
		return models.IdentityView{}, err
	}

	span.SetAttributes(
		attribute.String("identify.strategy", strategy.String()),
		attribute.Int64("identify.primary_id", view.PrimaryID),
	)
	s.observe(ctx, strategy, view, result, time.Since(start))
	return view, nil
}

// acquireScope derives the observation's identity key set and locks it. The
// set covers the normalized contact values plus the primaries they currently
// resolve to; if the primaries shift while waiting for the locks the
// acquisition restarts with fresh keys.
func (s *Service) acquireScope(ctx context.Context, obs models.Observation) (func(), error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		primaries, err := s.resolvePrimaryIDs(ctx, obs)
		if err != nil {
			return nil, err
		}

		release, err := s.locker.Acquire(ctx, s.identityKeys(obs, primaries))
		if err != nil {
			return nil, err
		}

		current, err := s.resolvePrimaryIDs(ctx, obs)
		if err != nil {
			release()
			return nil, err
		}
		if equalIDs(primaries, current) {
			return release, nil
		}

		// another operation re-shaped one of the touched components while we
		// were queueing; widen to the fresh key set
		release()
		if s.metrics != nil {
			s.metrics.IncrementLockRetries()
		}
	}
	return nil, dErrors.New(dErrors.CodeConflict, "identity graph shifted repeatedly during lock acquisition")
}

func (s *Service) resolvePrimaryIDs(ctx context.Context, obs models.Observation) ([]int64, error) {
	candidates, err := s.contacts.FindByEmailOrPhone(ctx, obs.Email, obs.Phone)
	if err != nil {
		return nil, storeFailure(err, "resolve identity keys")
	}
	seen := make(map[int64]struct{}, len(candidates))
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		pid := c.PrimaryID()
		if _, ok := seen[pid]; !ok {
			seen[pid] = struct{}{}
			ids = append(ids, pid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Service) identityKeys(obs models.Observation, primaryIDs []int64) []string {
	raw := make([]string, 0, 2+len(primaryIDs))
	if obs.Email != nil {
		raw = append(raw, "email:"+*obs.Email)
	}
	if obs.Phone != nil {
		raw = append(raw, "phone:"+*obs.Phone)
	}
	keys := stringsx.DedupeAndTrimLower(raw)
	for _, id := range primaryIDs {
		keys = append(keys, "primary:"+strconv.FormatInt(id, 10))
	}
	return keys
}

func (s *Service) observe(ctx context.Context, strategy classify.Strategy, view models.IdentityView, result executeResult, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveIdentify(strategy.String(), elapsed.Seconds())
		if n := len(result.absorbedPrimary); n > 0 {
			s.metrics.IncrementMerges(n)
		}
	}

	s.logger.InfoContext(ctx, "identify resolved",
		"strategy", strategy.String(),
		"primary_id", view.PrimaryID,
		"secondaries", len(view.SecondaryIDs),
		"duration_ms", elapsed.Milliseconds(),
		"request_id", middleware.GetRequestID(ctx),
	)

	event := audit.Event{
		Timestamp:          s.clock(),
		RequestID:          middleware.GetRequestID(ctx),
		PrimaryContactID:   view.PrimaryID,
		CreatedContactID:   result.createdID,
		AbsorbedPrimaryIDs: result.absorbedPrimary,
	}
	switch strategy {
	case classify.CreateNewIdentity:
		event.Action = audit.ActionIdentityCreated
	case classify.ExtendIdentity:
		event.Action = audit.ActionIdentityExtended
	case classify.MergeIdentities:
		event.Action = audit.ActionIdentitiesMerged
	default:
		return // no graph change, nothing to audit
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		// identity events are operational; a sink outage must not fail the request
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

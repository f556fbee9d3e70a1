// Package history answers read-only questions about past punishments:
// searches, time-window scans, per-owner statistics and rankings. Every list
// accepts a limit where -1 means unbounded and 0 returns nothing.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"warden/internal/punishment/adapters"
	"warden/internal/punishment/models"
	"warden/internal/storage/aggregate"
	"warden/internal/storage/query"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// Records is the aggregator history reads from.
type Records = aggregate.Aggregator[string, *models.Record]

// RevisionSource provides a record's audit trail.
type RevisionSource interface {
	ForRecord(ctx context.Context, recordID string) ([]models.Revision, error)
}

// OwnerCount is one entry of a most-punished ranking.
type OwnerCount struct {
	Owner uuid.UUID
	Name  string
	Count int
}

// Service is the history and statistics layer.
type Service struct {
	records   *Records
	revisions RevisionSource
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(records *Records, revisions RevisionSource, opts ...Option) *Service {
	s := &Service{
		records:   records,
		revisions: revisions,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now()
	}
	return requestcontext.Now(ctx)
}

func validateLimit(limit int) error {
	if limit < query.Unbounded {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("limit %d is invalid; use -1 for no limit", limit))
	}
	return nil
}

func validateRange(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return dErrors.New(dErrors.CodeValidation, "range start is after its end")
	}
	return nil
}

func validateWindow(window time.Duration) error {
	if window < 0 {
		return dErrors.New(dErrors.CodeValidation, "window must not be negative")
	}
	return nil
}

// run executes b over every repository holding typeName, newest first
// unless b already sorts.
func (s *Service) run(ctx context.Context, typeName string, b *builder, limit int) ([]*models.Record, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []*models.Record{}, nil
	}
	spec, err := b.Limit(limit).Spec()
	if err != nil {
		return nil, err
	}
	if len(spec.Sorts) == 0 {
		spec.Sorts = []query.Sort{{Field: adapters.FieldIssuedAt, Dir: query.Desc}}
	}
	recs, err := s.records.ScanAll(ctx, typeName, spec)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return recs, nil
}

// Search returns records matching c, newest first.
func (s *Service) Search(ctx context.Context, c models.Criteria, limit int) ([]*models.Record, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []*models.Record{}, nil
	}
	now := s.clock(ctx)
	typeName := aggregate.AnyType
	if t, ok := c.Type(); ok {
		typeName = t.Name
	}
	b := compile(c, now)
	if c.Duration().IsZero() {
		return s.run(ctx, typeName, b, limit)
	}

	all, err := s.run(ctx, typeName, b, query.Unbounded)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Record, 0, len(all))
	for _, r := range all {
		if c.Matches(r, now) {
			out = append(out, r)
		}
	}
	return query.Page(out, 0, limit), nil
}

// IssuedBetween returns records issued within [from, to].
func (s *Service) IssuedBetween(ctx context.Context, from, to time.Time, limit int) ([]*models.Record, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	b := newQuery()
	between(b, adapters.FieldIssuedAt, models.TimeRange{From: from, To: to})
	return s.run(ctx, aggregate.AnyType, b, limit)
}

// ExpiredBetween returns records whose expiry fell within [from, to] and has
// already passed. Revoked records are included.
func (s *Service) ExpiredBetween(ctx context.Context, from, to time.Time, limit int) ([]*models.Record, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	now := s.clock(ctx)
	if to.IsZero() || to.After(now) {
		to = now
	}
	b := newQuery()
	between(b, adapters.FieldExpiresAt, models.TimeRange{From: from, To: to})
	return s.run(ctx, aggregate.AnyType, b, limit)
}

// ExpiringWithin returns active records expiring in the next window,
// soonest first.
func (s *Service) ExpiringWithin(ctx context.Context, window time.Duration, limit int) ([]*models.Record, error) {
	if err := validateWindow(window); err != nil {
		return nil, err
	}
	now := s.clock(ctx)
	b := newQuery().
		Where(adapters.FieldRevocation).Eq(nil).
		Where(adapters.FieldExpiresAt).Gt(millis(now)).
		Where(adapters.FieldExpiresAt).Lte(millis(now.Add(window))).
		SortBy(adapters.FieldExpiresAt, query.Asc)
	return s.run(ctx, aggregate.AnyType, b, limit)
}

// RecentWithin returns records issued during the last window.
func (s *Service) RecentWithin(ctx context.Context, window time.Duration, limit int) ([]*models.Record, error) {
	if err := validateWindow(window); err != nil {
		return nil, err
	}
	now := s.clock(ctx)
	b := newQuery().Where(adapters.FieldIssuedAt).Gte(millis(now.Add(-window)))
	return s.run(ctx, aggregate.AnyType, b, limit)
}

// SearchReason returns records whose reason contains text, ignoring case.
func (s *Service) SearchReason(ctx context.Context, text string, limit int) ([]*models.Record, error) {
	if text == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "search text is required")
	}
	b := newQuery().Where(adapters.FieldReason).Like(containsPattern(text))
	return s.run(ctx, aggregate.AnyType, b, limit)
}

// DurationRange returns timed records whose duration lies within [min, max].
// Permanent records never match.
func (s *Service) DurationRange(ctx context.Context, minDur, maxDur time.Duration, limit int) ([]*models.Record, error) {
	c, err := models.NewCriteria().MinDuration(minDur).MaxDuration(maxDur).Build()
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, c, limit)
}

// Permanent returns records without an expiry.
func (s *Service) Permanent(ctx context.Context, limit int) ([]*models.Record, error) {
	b := newQuery().Where(adapters.FieldDuration).Eq("")
	return s.run(ctx, aggregate.AnyType, b, limit)
}

// CountFor counts owner's records; inactive ones only when includeInactive.
func (s *Service) CountFor(ctx context.Context, owner uuid.UUID, includeInactive bool) (int64, error) {
	if owner == uuid.Nil {
		return 0, dErrors.New(dErrors.CodeValidation, "owner is required")
	}
	b := newQuery().Where(adapters.FieldTargetID).Eq(owner.String())
	if !includeInactive {
		active(b, s.clock(ctx))
	}
	spec, err := b.Spec()
	if err != nil {
		return 0, err
	}
	n, err := s.records.Count(ctx, aggregate.AnyType, spec)
	if err != nil {
		return 0, fmt.Errorf("count records of %s: %w", owner, err)
	}
	return n, nil
}

// StatisticsFor summarizes owner's records issued within [from, to].
func (s *Service) StatisticsFor(ctx context.Context, owner uuid.UUID, from, to time.Time) (models.Statistics, error) {
	if owner == uuid.Nil {
		return models.Statistics{}, dErrors.New(dErrors.CodeValidation, "owner is required")
	}
	if err := validateRange(from, to); err != nil {
		return models.Statistics{}, err
	}
	window := models.TimeRange{From: from, To: to}
	b := newQuery().Where(adapters.FieldTargetID).Eq(owner.String())
	between(b, adapters.FieldIssuedAt, window)
	recs, err := s.run(ctx, aggregate.AnyType, b, query.Unbounded)
	if err != nil {
		return models.Statistics{}, err
	}

	sb := models.NewStatisticsBuilder(owner, window, s.clock(ctx))
	for _, r := range recs {
		if err := sb.Add(r); err != nil {
			return models.Statistics{}, err
		}
	}
	return sb.Build()
}

// MostPunished ranks owners by records issued since since (all time when
// zero). Ties are broken by owner id.
func (s *Service) MostPunished(ctx context.Context, limit int, since time.Time) ([]OwnerCount, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []OwnerCount{}, nil
	}
	b := newQuery()
	between(b, adapters.FieldIssuedAt, models.TimeRange{From: since})
	recs, err := s.run(ctx, aggregate.AnyType, b, query.Unbounded)
	if err != nil {
		return nil, err
	}

	counts := map[uuid.UUID]*OwnerCount{}
	for _, r := range recs {
		c, ok := counts[r.Owner()]
		if !ok {
			// records arrive newest first, so the first name seen is the latest
			c = &OwnerCount{Owner: r.Owner(), Name: r.Target().Name()}
			counts[r.Owner()] = c
		}
		c.Count++
	}
	out := make([]OwnerCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Owner.String() < out[j].Owner.String()
	})
	return query.Page(out, 0, limit), nil
}

// Related returns the other records of the same target as recordID.
func (s *Service) Related(ctx context.Context, recordID string, limit int) ([]*models.Record, error) {
	if recordID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	rec, err := s.records.FindByID(ctx, aggregate.AnyType, recordID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "punishment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", recordID, err)
	}
	b := newQuery().
		Where(adapters.FieldTargetID).Eq(rec.Owner().String()).
		Where(adapters.FieldID).Ne(recordID)
	return s.run(ctx, aggregate.AnyType, b, limit)
}

// Revisions returns the audit trail of recordID, oldest first.
func (s *Service) Revisions(ctx context.Context, recordID string) ([]models.Revision, error) {
	if recordID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	return s.revisions.ForRecord(ctx, recordID)
}

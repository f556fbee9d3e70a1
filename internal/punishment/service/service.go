package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/platform/metrics"
	"warden/internal/punishment/adapters"
	"warden/internal/punishment/cache"
	"warden/internal/punishment/models"
	"warden/internal/storage/aggregate"
	"warden/internal/storage/query"
	"warden/pkg/async"
	"warden/pkg/attrs"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	pstrings "warden/pkg/platform/strings"
	"warden/pkg/requestcontext"
)

// Audit events.
const (
	EventApplied          = "punishment_applied"
	EventRevoked          = "punishment_revoked"
	EventBulkRevoked      = "punishments_bulk_revoked"
	EventReasonUpdated    = "punishment_reason_updated"
	EventDurationModified = "punishment_duration_modified"
	EventNoteAdded        = "punishment_note_added"
	EventNotesCleared     = "punishment_notes_cleared"
)

// Records is the aggregator the Manager reads and writes records through.
type Records = aggregate.Aggregator[string, *models.Record]

// RecordID is the identity function for record repositories.
func RecordID(r *models.Record) string { return r.ID() }

// ApplyResult is the outcome of a durable write. Persisted is false when the
// write failed; Record is then the in-memory state, and the write waits in
// the retry queue.
type ApplyResult struct {
	Record    *models.Record
	Persisted bool
	Err       error
}

// ScanStatus tags a ScanResult.
type ScanStatus string

const (
	ScanFound    ScanStatus = "found"
	ScanNotFound ScanStatus = "not_found"
	ScanError    ScanStatus = "error"
)

// ScanResult is the outcome of Scan. Record is set when Status is ScanFound
// and Err when it is ScanError.
type ScanResult struct {
	Status ScanStatus
	Record *models.Record
	Err    error
}

// Manager applies, reads and revokes punishments. Writes land in the cache
// first and reach the store asynchronously on the worker pool.
//
// Every record with a durable write in flight is tracked, so a lookup always
// returns the one in-memory instance rather than a stale copy from the store.
type Manager struct {
	types     *models.TypeRegistry
	records   *Records
	revisions *RevisionLog
	cache     *cache.Cache
	pool      *async.Pool
	retrier   *Retrier
	retryCfg  *RetryConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// mu serializes load-mutate-persist sequences.
	mu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*inflight
	// epoch advances whenever a write is tracked or settles; guarded by pendingMu.
	epoch uint64
}

type inflight struct {
	rec     *models.Record
	writes  int
	// writeMu orders snapshot-and-save of concurrent writes for one record,
	// so the last save carries the latest state.
	writeMu sync.Mutex
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock fixes the time source. Without it the Manager uses the request
// time carried by ctx, or the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTypes sets the known punishment types.
func WithTypes(types *models.TypeRegistry) Option {
	return func(m *Manager) {
		if types != nil {
			m.types = types
		}
	}
}

// WithRetry tunes the retry queue for failed durable writes.
func WithRetry(cfg RetryConfig) Option {
	return func(m *Manager) { m.retryCfg = &cfg }
}

// New creates a Manager.
func New(records *Records, revisions *RevisionLog, c *cache.Cache, pool *async.Pool, opts ...Option) *Manager {
	m := &Manager{
		types:     models.DefaultTypes(),
		records:   records,
		revisions: revisions,
		cache:     c,
		pool:      pool,
		logger:    slog.New(slog.DiscardHandler),
		pending:   make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(m)
	}
	cfg := RetryConfig{}
	if m.retryCfg != nil {
		cfg = *m.retryCfg
	}
	if cfg.Clock == nil {
		cfg.Clock = m.now
	}
	m.retrier = newRetrier(m.persist, cfg, m.logger, m.metrics)
	return m
}

// Retrier returns the queue holding failed durable writes.
func (m *Manager) Retrier() *Retrier { return m.retrier }

// Cache returns the active record cache.
func (m *Manager) Cache() *cache.Cache { return m.cache }

// Types returns the known punishment types.
func (m *Manager) Types() *models.TypeRegistry { return m.types }

func (m *Manager) clock(ctx context.Context) time.Time {
	if m.now != nil {
		return m.now()
	}
	return requestcontext.Now(ctx)
}

// Create builds a new record. It touches neither the cache nor the store.
func (m *Manager) Create(ctx context.Context, typ models.Type, target models.Target, issuer models.Issuer, reason string, d time.Duration) (*models.Record, error) {
	known, ok := m.types.Lookup(typ.Name)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown punishment type: "+typ.Name)
	}
	return models.NewRecord(models.Draft{
		Type:     known,
		Target:   target,
		Issuer:   issuer,
		Reason:   reason,
		Duration: d,
		IssuedAt: m.clock(ctx),
	})
}

// Apply makes rec visible in the cache immediately and persists it on the
// pool. The future resolves once the durable write settles; it only carries
// an error when rec itself is invalid.
func (m *Manager) Apply(ctx context.Context, rec *models.Record) *async.Future[ApplyResult] {
	if rec == nil {
		return async.Resolved(ApplyResult{}, dErrors.New(dErrors.CodeValidation, "record is required"))
	}
	if _, ok := m.types.Lookup(rec.Type().Name); !ok {
		return async.Resolved(ApplyResult{}, dErrors.New(dErrors.CodeValidation, "unknown punishment type: "+rec.Type().Name))
	}

	m.cache.Put(rec)
	f := m.persistAsync(ctx, "apply", rec, rec.Revisions())
	m.logAudit(ctx, EventApplied,
		"record_id", rec.ID(),
		"type", rec.Type().Name,
		"owner", rec.Owner(),
		"issuer", rec.Issuer().Name(),
	)
	return f
}

// GetActive returns the newest active record of typ for owner, or
// sentinel.ErrNotFound.
func (m *Manager) GetActive(ctx context.Context, owner uuid.UUID, typ models.Type) (*models.Record, error) {
	if owner == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeValidation, "owner is required")
	}
	if typ.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "punishment type is required")
	}
	now := m.clock(ctx)
	if typ.Cacheable {
		if rec, ok := m.cache.Active(owner, typ, now); ok {
			return rec, nil
		}
	}

	for attempt := 1; ; attempt++ {
		epoch := m.writeEpoch()
		best, err := m.loadActive(ctx, owner, typ, now)
		if err != nil {
			return nil, err
		}
		if best == nil {
			return nil, sentinel.ErrNotFound
		}
		if m.refill(best, epoch) || attempt == refillAttempts {
			return best, nil
		}
	}
}

// refillAttempts bounds how often GetActive reloads when writes race its
// store read. The last load is returned without caching.
const refillAttempts = 3

// loadActive picks the newest active record of typ for owner from the store
// and the in-flight writes.
func (m *Manager) loadActive(ctx context.Context, owner uuid.UUID, typ models.Type, now time.Time) (*models.Record, error) {
	spec, err := activeSpec(owner, typ.Name, now)
	if err != nil {
		return nil, err
	}
	stored, err := m.records.Query(ctx, typ.Name, spec)
	if err != nil {
		return nil, fmt.Errorf("load active %s for %s: %w", typ.Name, owner, err)
	}

	var best *models.Record
	for _, rec := range append(m.canonicalAll(stored), m.inflightFor(owner, typ.Name)...) {
		if !rec.IsActive(now) {
			continue
		}
		if best == nil || rec.IssuedAt().After(best.IssuedAt()) {
			best = rec
		}
	}
	return best, nil
}

// refill caches rec unless a write was tracked or settled since epoch, in
// which case the store read may predate it.
func (m *Manager) refill(rec *models.Record, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeEpoch() != epoch {
		return false
	}
	m.cache.Put(rec)
	return true
}

// Revoke lifts the record with id. It reports false, without error, when no
// such record exists or it is no longer active.
func (m *Manager) Revoke(ctx context.Context, id string, revoker models.Issuer, reason string) (bool, error) {
	if id == "" {
		return false, dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	if revoker == nil {
		return false, dErrors.New(dErrors.CodeValidation, "revoker is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock(ctx)
	rec, err := m.lookup(ctx, id, now)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", id, err)
	}
	rev, err := rec.Revoke(revoker, reason, now)
	if errors.Is(err, models.ErrAlreadyRevoked) || errors.Is(err, models.ErrExpired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.cache.Remove(id)
	m.persistAsync(ctx, "revoke", rec, []models.Revision{rev})
	m.logAudit(ctx, EventRevoked,
		"record_id", id,
		"type", rec.Type().Name,
		"owner", rec.Owner(),
		"revoker", revoker.Name(),
	)
	return true, nil
}

// RevokeAll revokes every active record of owner, of typeName or of any
// type when typeName is empty, and returns how many were revoked. Records
// are revoked one by one; a failure is logged and skipped.
func (m *Manager) RevokeAll(ctx context.Context, owner uuid.UUID, typeName string, revoker models.Issuer, reason string) (int, error) {
	if owner == uuid.Nil {
		return 0, dErrors.New(dErrors.CodeValidation, "owner is required")
	}
	if revoker == nil {
		return 0, dErrors.New(dErrors.CodeValidation, "revoker is required")
	}
	if typeName != "" {
		typ, err := m.types.Parse(typeName)
		if err != nil {
			return 0, err
		}
		typeName = typ.Name
	}

	now := m.clock(ctx)
	ctx = requestcontext.WithTime(ctx, now)
	spec, err := ownerSpec(owner, typeName).
		Where(adapters.FieldRevocation).Eq(nil).
		SortBy(adapters.FieldIssuedAt, query.Asc).
		Spec()
	if err != nil {
		return 0, err
	}
	stored, err := m.records.ScanAll(ctx, typeName, spec)
	if err != nil {
		return 0, fmt.Errorf("scan records of %s: %w", owner, err)
	}

	var ids []string
	for _, recs := range [][]*models.Record{stored, m.cache.ForOwner(owner, typeName), m.inflightFor(owner, typeName)} {
		for _, r := range recs {
			ids = append(ids, r.ID())
		}
	}
	ids = pstrings.Dedupe(ids, nil)

	revoked, failed := 0, 0
	for _, id := range ids {
		ok, err := m.Revoke(ctx, id, revoker, reason)
		if err != nil {
			failed++
			m.logger.ErrorContext(ctx, "bulk revoke: record skipped", "record_id", id, "error", err)
			continue
		}
		if ok {
			revoked++
		}
	}
	m.logAudit(ctx, EventBulkRevoked,
		"owner", owner,
		"type", typeName,
		"revoker", revoker.Name(),
		"revoked", revoked,
		"failed", failed,
	)
	return revoked, nil
}

// Scan looks up the active record of typ for identity, then for secondary
// (an address-derived identity, for instance) when the first has none.
func (m *Manager) Scan(ctx context.Context, identity, secondary uuid.UUID, typ models.Type) ScanResult {
	for _, owner := range []uuid.UUID{identity, secondary} {
		if owner == uuid.Nil {
			continue
		}
		rec, err := m.GetActive(ctx, owner, typ)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return ScanResult{Status: ScanError, Err: err}
		}
		return ScanResult{Status: ScanFound, Record: rec}
	}
	return ScanResult{Status: ScanNotFound}
}

// ActiveFor returns owner's cached records that are active now, of typeName
// or of every cached type when typeName is empty.
func (m *Manager) ActiveFor(ctx context.Context, owner uuid.UUID, typeName string) []*models.Record {
	now := m.clock(ctx)
	var out []*models.Record
	for _, rec := range m.cache.ForOwner(owner, typeName) {
		if rec.IsActive(now) {
			out = append(out, rec)
		}
	}
	return out
}

// UpdateReason replaces the reason of record id.
func (m *Manager) UpdateReason(ctx context.Context, id string, actor models.Issuer, reason string) (*models.Record, error) {
	return m.mutate(ctx, "update_reason", EventReasonUpdated, id, actor, func(rec *models.Record, now time.Time) (models.Revision, error) {
		return rec.UpdateReason(actor, reason, now)
	})
}

// ModifyDuration changes the duration of record id; zero makes it permanent.
func (m *Manager) ModifyDuration(ctx context.Context, id string, actor models.Issuer, d time.Duration) (*models.Record, error) {
	return m.mutate(ctx, "modify_duration", EventDurationModified, id, actor, func(rec *models.Record, now time.Time) (models.Revision, error) {
		return rec.ModifyDuration(actor, d, now)
	})
}

// AddNote appends a staff note to record id.
func (m *Manager) AddNote(ctx context.Context, id string, actor models.Issuer, note string) (*models.Record, error) {
	return m.mutate(ctx, "add_note", EventNoteAdded, id, actor, func(rec *models.Record, now time.Time) (models.Revision, error) {
		return rec.AddNote(actor, note, now)
	})
}

// ClearNotes removes every note of record id.
func (m *Manager) ClearNotes(ctx context.Context, id string, actor models.Issuer) (*models.Record, error) {
	return m.mutate(ctx, "clear_notes", EventNotesCleared, id, actor, func(rec *models.Record, now time.Time) (models.Revision, error) {
		return rec.ClearNotes(actor, now), nil
	})
}

func (m *Manager) mutate(ctx context.Context, op, event, id string, actor models.Issuer, fn func(*models.Record, time.Time) (models.Revision, error)) (*models.Record, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	if actor == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "actor is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock(ctx)
	rec, err := m.lookup(ctx, id, now)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "punishment not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load punishment")
	}
	rev, err := fn(rec, now)
	if err != nil {
		return nil, err
	}

	if rec.IsActive(now) {
		m.cache.Put(rec)
	} else {
		m.cache.Remove(id)
	}
	m.persistAsync(ctx, op, rec, []models.Revision{rev})
	m.logAudit(ctx, event, "record_id", id, "actor", actor.Name())
	return rec, nil
}

// lookup finds id among in-flight writes, then the cache, then the store.
func (m *Manager) lookup(ctx context.Context, id string, now time.Time) (*models.Record, error) {
	if rec := m.inflight(id); rec != nil {
		return rec, nil
	}
	if rec, ok := m.cache.Get(id, now); ok {
		return rec, nil
	}
	rec, err := m.records.FindByID(ctx, aggregate.AnyType, id)
	if err != nil {
		return nil, err
	}
	return m.canonical(rec), nil
}

// persistAsync tracks rec and schedules its durable write.
func (m *Manager) persistAsync(ctx context.Context, op string, rec *models.Record, revs []models.Revision) *async.Future[ApplyResult] {
	w := m.track(op, rec, revs)
	ctx = context.WithoutCancel(ctx)
	f := async.Submit(m.pool, ctx, func(ctx context.Context) (ApplyResult, error) {
		return m.complete(ctx, w, m.persist(ctx, w)), nil
	})
	return async.Then(f, func(res ApplyResult, err error) (ApplyResult, error) {
		if err != nil {
			// the pool refused or lost the job
			return m.complete(ctx, w, err), nil
		}
		return res, nil
	})
}

func (m *Manager) complete(ctx context.Context, w Write, err error) ApplyResult {
	if err == nil {
		w.settle()
		return ApplyResult{Record: w.Record, Persisted: true}
	}
	m.logger.ErrorContext(ctx, "durable write failed, queued for retry",
		"op", w.Op,
		"record_id", w.Record.ID(),
		"error", err,
	)
	if m.metrics != nil {
		m.metrics.IncPersistFailure(w.Op)
	}
	m.retrier.Enqueue(ctx, w)
	return ApplyResult{Record: w.Record, Persisted: false, Err: err}
}

// persist writes the record's current state and its new revisions.
func (m *Manager) persist(ctx context.Context, w Write) error {
	if mu := m.writeLock(w.Record.ID()); mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	repos := m.records.Repositories(w.Record.Type().Name)
	if len(repos) == 0 {
		return fmt.Errorf("%w: no repository holds %s", sentinel.ErrUnavailable, w.Record.Type().Name)
	}
	if _, err := repos[0].Save(ctx, w.Record); err != nil {
		return fmt.Errorf("save %s: %w", w.Record.ID(), err)
	}
	if m.revisions != nil {
		if err := m.revisions.Append(ctx, w.Revisions...); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) track(op string, rec *models.Record, revs []models.Revision) Write {
	id := rec.ID()
	m.pendingMu.Lock()
	e := m.pending[id]
	if e == nil {
		e = &inflight{}
		m.pending[id] = e
	}
	e.rec = rec
	e.writes++
	m.epoch++
	m.pendingMu.Unlock()

	var once sync.Once
	return Write{
		Op:        op,
		Record:    rec,
		Revisions: revs,
		done:      func() { once.Do(func() { m.release(id) }) },
	}
}

func (m *Manager) release(id string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	e := m.pending[id]
	if e == nil {
		return
	}
	e.writes--
	if e.writes <= 0 {
		delete(m.pending, id)
	}
	m.epoch++
}

func (m *Manager) writeEpoch() uint64 {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return m.epoch
}

func (m *Manager) writeLock(id string) *sync.Mutex {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if e := m.pending[id]; e != nil {
		return &e.writeMu
	}
	return nil
}

// Pending returns the number of records with a durable write not yet settled.
func (m *Manager) Pending() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

func (m *Manager) inflight(id string) *models.Record {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if e := m.pending[id]; e != nil {
		return e.rec
	}
	return nil
}

func (m *Manager) inflightFor(owner uuid.UUID, typeName string) []*models.Record {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	var out []*models.Record
	for _, e := range m.pending {
		if e.rec.Owner() != owner {
			continue
		}
		if typeName != "" && e.rec.Type().Name != typeName {
			continue
		}
		out = append(out, e.rec)
	}
	return out
}

// canonical swaps a freshly loaded record for its in-flight instance.
func (m *Manager) canonical(rec *models.Record) *models.Record {
	if live := m.inflight(rec.ID()); live != nil {
		return live
	}
	return rec
}

func (m *Manager) canonicalAll(recs []*models.Record) []*models.Record {
	out := make([]*models.Record, len(recs))
	for i, r := range recs {
		out[i] = m.canonical(r)
	}
	return out
}

func (m *Manager) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attrs.Without(attributes, "request_id"), "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	m.logger.InfoContext(ctx, event, args...)
	if m.metrics != nil {
		typ := attrs.ExtractString(attributes, "type")
		if typ == "" {
			typ = "all"
		}
		m.metrics.IncAuditEvent(event, typ)
	}
}

// ownerSpec starts a record query scoped to owner and, when set, typeName.
func ownerSpec(owner uuid.UUID, typeName string) *query.Builder[*models.Record] {
	b := query.New[*models.Record](nil, nil).Where(adapters.FieldTargetID).Eq(owner.String())
	if typeName != "" {
		b = b.Where(adapters.FieldType).Eq(typeName)
	}
	return b
}

// activeSpec selects owner's unrevoked, unexpired records of typeName,
// newest first.
func activeSpec(owner uuid.UUID, typeName string, now time.Time) (query.Spec, error) {
	return ownerSpec(owner, typeName).
		Where(adapters.FieldRevocation).Eq(nil).
		Group(func(g *query.Builder[*models.Record]) {
			g.Where(adapters.FieldExpiresAt).Eq(nil).
				Or().Where(adapters.FieldExpiresAt).Gt(models.NormalizeTime(now).UnixMilli())
		}).
		SortBy(adapters.FieldIssuedAt, query.Desc).
		Spec()
}

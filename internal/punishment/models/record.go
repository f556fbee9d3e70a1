package models

import (
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
)

var (
	// ErrAlreadyRevoked is returned when revoking a record that already carries a revocation.
	ErrAlreadyRevoked = errors.New("punishment already revoked")
	// ErrExpired is returned when revoking a record whose expiry has passed.
	ErrExpired = errors.New("punishment expired")
)

// State is the derived lifecycle state of a record.
type State string

const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// Revocation records who lifted a punishment and when.
type Revocation struct {
	Revoker   Issuer
	RevokedAt time.Time
	Reason    string
}

// Draft carries the inputs for a new record.
type Draft struct {
	ID       string // generated when empty
	Type     Type
	Target   Target
	Issuer   Issuer
	Reason   string
	Duration time.Duration // <= 0 means permanent
	IssuedAt time.Time
}

// Record is a single punishment. Fields are guarded by an internal lock and
// read through accessors. Mutations go through the Manager, which owns
// persistence; each one appends exactly one revision.
type Record struct {
	mu sync.RWMutex

	id         string
	typ        Type
	target     Target
	issuer     Issuer
	reason     string
	issuedAt   time.Time
	duration   time.Duration
	expiresAt  time.Time
	notes      []string
	revisions  []Revision
	revocation *Revocation
}

// NewRecord validates d and returns a record holding its created revision.
func NewRecord(d Draft) (*Record, error) {
	if d.Type.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "punishment type is required")
	}
	if err := validateTarget(d.Target); err != nil {
		return nil, err
	}
	if d.Issuer == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "issuer is required")
	}
	if d.IssuedAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "issued-at time is required")
	}
	if err := validateDuration(d.Type, d.Duration); err != nil {
		return nil, err
	}
	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	if d.Duration < 0 {
		d.Duration = 0
	}

	r := &Record{
		id:       id,
		typ:      d.Type,
		target:   d.Target,
		issuer:   d.Issuer,
		reason:   d.Reason,
		issuedAt: NormalizeTime(d.IssuedAt),
		duration: d.Duration,
		notes:    []string{},
	}
	r.expiresAt = expiryOf(r.issuedAt, r.duration)

	rev := newRevision(id, RevisionCreated, d.Issuer, r.issuedAt)
	if d.Reason != "" {
		rev.NewValue = ptr(d.Reason)
	}
	rev.NewDuration = ptr(d.Duration)
	r.revisions = []Revision{rev}
	return r, nil
}

func validateDuration(t Type, d time.Duration) error {
	if d < 0 {
		return dErrors.New(dErrors.CodeValidation, "duration must not be negative")
	}
	if d > 0 && !t.SupportsDuration {
		return dErrors.New(dErrors.CodeValidation, "punishment type "+t.Name+" does not support a duration")
	}
	return nil
}

func expiryOf(issuedAt time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return NormalizeTime(issuedAt.Add(d))
}

// Snapshot is the plain state of a record, used to persist and restore it.
type Snapshot struct {
	ID         string
	Type       Type
	Target     Target
	Issuer     Issuer
	Reason     string
	IssuedAt   time.Time
	Duration   time.Duration
	ExpiresAt  time.Time // zero when permanent
	Notes      []string
	Revisions  []Revision
	Revocation *Revocation
}

// Restore rebuilds a record from persisted state, checking its invariants.
func Restore(s Snapshot) (*Record, error) {
	if s.ID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "record id is missing")
	}
	if s.Type.IsZero() || s.Target == nil || s.Issuer == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "record "+s.ID+" is incomplete")
	}
	if s.Duration < 0 {
		s.Duration = 0
	}
	issuedAt := NormalizeTime(s.IssuedAt)
	expected := expiryOf(issuedAt, s.Duration)
	if !s.ExpiresAt.IsZero() && !NormalizeTime(s.ExpiresAt).Equal(expected) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "record "+s.ID+" has an expiry inconsistent with its duration")
	}

	r := &Record{
		id:        s.ID,
		typ:       s.Type,
		target:    s.Target,
		issuer:    s.Issuer,
		reason:    s.Reason,
		issuedAt:  issuedAt,
		duration:  s.Duration,
		expiresAt: expected,
		notes:     slices.Clone(s.Notes),
	}
	if r.notes == nil {
		r.notes = []string{}
	}
	for _, rev := range s.Revisions {
		r.revisions = append(r.revisions, rev.clone())
	}
	if s.Revocation != nil {
		rv := *s.Revocation
		rv.RevokedAt = NormalizeTime(rv.RevokedAt)
		r.revocation = &rv
	}
	return r, nil
}

// Snapshot returns a copy of the record's state.
func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		ID:        r.id,
		Type:      r.typ,
		Target:    r.target,
		Issuer:    r.issuer,
		Reason:    r.reason,
		IssuedAt:  r.issuedAt,
		Duration:  r.duration,
		ExpiresAt: r.expiresAt,
		Notes:     slices.Clone(r.notes),
		Revisions: r.revisionsLocked(),
	}
	if r.revocation != nil {
		rv := *r.revocation
		s.Revocation = &rv
	}
	return s
}

// Clone returns an independent copy.
func (r *Record) Clone() *Record {
	c, _ := Restore(r.Snapshot())
	return c
}

func (r *Record) ID() string { return r.id }

func (r *Record) Type() Type { return r.typ }

// Owner is the identity of the punished target.
func (r *Record) Owner() uuid.UUID { return r.target.ID() }

func (r *Record) Target() Target { return r.target }

func (r *Record) Issuer() Issuer { return r.issuer }

func (r *Record) IssuedAt() time.Time { return r.issuedAt }

func (r *Record) Reason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reason
}

func (r *Record) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.duration
}

// ExpiresAt returns the expiry and whether one exists.
func (r *Record) ExpiresAt() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expiresAt, !r.expiresAt.IsZero()
}

func (r *Record) IsPermanent() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.duration <= 0
}

func (r *Record) Notes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.notes)
}

func (r *Record) Revisions() []Revision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revisionsLocked()
}

func (r *Record) revisionsLocked() []Revision {
	out := make([]Revision, len(r.revisions))
	for i, rev := range r.revisions {
		out[i] = rev.clone()
	}
	return out
}

// Revocation returns the revocation, if any.
func (r *Record) Revocation() (Revocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.revocation == nil {
		return Revocation{}, false
	}
	return *r.revocation, true
}

func (r *Record) IsRevoked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revocation != nil
}

// IsExpired reports whether the expiry has passed at now.
func (r *Record) IsExpired(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expiredLocked(now)
}

func (r *Record) expiredLocked(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

// IsActive reports whether the record is neither revoked nor expired at now.
func (r *Record) IsActive(now time.Time) bool {
	return r.State(now) == StateActive
}

// State derives the lifecycle state at now.
func (r *Record) State(now time.Time) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.revocation != nil:
		return StateRevoked
	case r.expiredLocked(now):
		return StateExpired
	default:
		return StateActive
	}
}

// Remaining returns the time left before expiry, or zero when permanent or past.
func (r *Record) Remaining(now time.Time) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.expiresAt.IsZero() || !now.Before(r.expiresAt) {
		return 0
	}
	return r.expiresAt.Sub(now)
}

// CanRevoke reports whether the record may be revoked at now.
func (r *Record) CanRevoke(now time.Time) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canRevokeLocked(now)
}

func (r *Record) canRevokeLocked(now time.Time) error {
	if r.revocation != nil {
		return ErrAlreadyRevoked
	}
	if r.expiredLocked(now) {
		return ErrExpired
	}
	return nil
}

// Revoke lifts the punishment and appends a revoked revision.
func (r *Record) Revoke(revoker Issuer, reason string, now time.Time) (Revision, error) {
	if revoker == nil {
		return Revision{}, dErrors.New(dErrors.CodeValidation, "revoker is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.canRevokeLocked(now); err != nil {
		return Revision{}, err
	}
	at := NormalizeTime(now)
	r.revocation = &Revocation{Revoker: revoker, RevokedAt: at, Reason: reason}
	rev := newRevision(r.id, RevisionRevoked, revoker, at)
	rev.Reason = reason
	return r.appendLocked(rev), nil
}

// UpdateReason replaces the reason. Revoked records are frozen.
func (r *Record) UpdateReason(actor Issuer, reason string, now time.Time) (Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revocation != nil {
		return Revision{}, dErrors.Wrap(ErrAlreadyRevoked, dErrors.CodeInvariantViolation, "cannot change the reason of a revoked punishment")
	}
	rev := newRevision(r.id, RevisionReasonUpdated, actor, now)
	if r.reason != "" {
		rev.OldValue = ptr(r.reason)
	}
	if reason != "" {
		rev.NewValue = ptr(reason)
	}
	r.reason = reason
	return r.appendLocked(rev), nil
}

// ModifyDuration changes the duration and recomputes the expiry from issuedAt.
// Zero makes the record permanent.
func (r *Record) ModifyDuration(actor Issuer, d time.Duration, now time.Time) (Revision, error) {
	if err := validateDuration(r.typ, d); err != nil {
		return Revision{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revocation != nil {
		return Revision{}, dErrors.Wrap(ErrAlreadyRevoked, dErrors.CodeInvariantViolation, "cannot change the duration of a revoked punishment")
	}
	rev := newRevision(r.id, RevisionDurationModified, actor, now)
	rev.OldDuration = ptr(r.duration)
	rev.NewDuration = ptr(d)
	r.duration = d
	r.expiresAt = expiryOf(r.issuedAt, d)
	return r.appendLocked(rev), nil
}

// AddNote appends a staff note.
func (r *Record) AddNote(actor Issuer, note string, now time.Time) (Revision, error) {
	if note == "" {
		return Revision{}, dErrors.New(dErrors.CodeValidation, "note must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	rev := newRevision(r.id, RevisionNoteAdded, actor, now)
	rev.NewValue = ptr(note)
	return r.appendLocked(rev), nil
}

// ClearNotes removes every note.
func (r *Record) ClearNotes(actor Issuer, now time.Time) Revision {
	r.mu.Lock()
	defer r.mu.Unlock()
	rev := newRevision(r.id, RevisionNotesCleared, actor, now)
	rev.Metadata["count"] = strconv.Itoa(len(r.notes))
	r.notes = []string{}
	return r.appendLocked(rev)
}

func (r *Record) appendLocked(rev Revision) Revision {
	r.revisions = append(r.revisions, rev)
	return rev.clone()
}

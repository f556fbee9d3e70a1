package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
)

// TimeRange is a closed interval. A zero bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether neither bound is set.
func (r TimeRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

// Contains reports whether t lies within the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// DurationRange is a closed interval of durations. Nil bounds are open.
type DurationRange struct {
	Min *time.Duration
	Max *time.Duration
}

func (r DurationRange) IsZero() bool { return r.Min == nil && r.Max == nil }

func (r DurationRange) Contains(d time.Duration) bool {
	if r.Min != nil && d < *r.Min {
		return false
	}
	if r.Max != nil && d > *r.Max {
		return false
	}
	return true
}

// Criteria is an immutable, validated search filter. Build one with
// NewCriteria.
type Criteria struct {
	typ           *Type
	issuer        string
	owner         uuid.UUID
	reason        string
	issued        TimeRange
	expires       TimeRange
	duration      DurationRange
	activeOnly    bool
	permanentOnly bool
	excluded      []Type
}

func (c Criteria) Type() (Type, bool) {
	if c.typ == nil {
		return Type{}, false
	}
	return *c.typ, true
}

func (c Criteria) IssuerName() string      { return c.issuer }
func (c Criteria) Owner() uuid.UUID        { return c.owner }
func (c Criteria) ReasonContains() string  { return c.reason }
func (c Criteria) Issued() TimeRange       { return c.issued }
func (c Criteria) Expires() TimeRange      { return c.expires }
func (c Criteria) Duration() DurationRange { return c.duration }
func (c Criteria) ActiveOnly() bool        { return c.activeOnly }
func (c Criteria) PermanentOnly() bool     { return c.permanentOnly }
func (c Criteria) Excluded() []Type        { return slices.Clone(c.excluded) }

// IsExcluded reports whether t is in the excluded set.
func (c Criteria) IsExcluded(t Type) bool {
	return slices.ContainsFunc(c.excluded, func(e Type) bool { return e.Name == t.Name })
}

// CriteriaBuilder assembles a Criteria.
type CriteriaBuilder struct {
	c Criteria
}

func NewCriteria() *CriteriaBuilder { return &CriteriaBuilder{} }

func (b *CriteriaBuilder) Type(t Type) *CriteriaBuilder {
	b.c.typ = &t
	return b
}

func (b *CriteriaBuilder) Issuer(name string) *CriteriaBuilder {
	b.c.issuer = name
	return b
}

func (b *CriteriaBuilder) Owner(id uuid.UUID) *CriteriaBuilder {
	b.c.owner = id
	return b
}

// ReasonContains matches records whose reason contains s, ignoring case.
func (b *CriteriaBuilder) ReasonContains(s string) *CriteriaBuilder {
	b.c.reason = s
	return b
}

func (b *CriteriaBuilder) IssuedBetween(from, to time.Time) *CriteriaBuilder {
	b.c.issued = TimeRange{From: from, To: to}
	return b
}

func (b *CriteriaBuilder) ExpiresBetween(from, to time.Time) *CriteriaBuilder {
	b.c.expires = TimeRange{From: from, To: to}
	return b
}

func (b *CriteriaBuilder) MinDuration(d time.Duration) *CriteriaBuilder {
	b.c.duration.Min = &d
	return b
}

func (b *CriteriaBuilder) MaxDuration(d time.Duration) *CriteriaBuilder {
	b.c.duration.Max = &d
	return b
}

func (b *CriteriaBuilder) ActiveOnly() *CriteriaBuilder {
	b.c.activeOnly = true
	return b
}

func (b *CriteriaBuilder) PermanentOnly() *CriteriaBuilder {
	b.c.permanentOnly = true
	return b
}

func (b *CriteriaBuilder) Exclude(types ...Type) *CriteriaBuilder {
	b.c.excluded = append(b.c.excluded, types...)
	return b
}

// Build validates the accumulated filter and returns an independent copy.
func (b *CriteriaBuilder) Build() (Criteria, error) {
	c := b.c
	if !c.issued.From.IsZero() && !c.issued.To.IsZero() && c.issued.From.After(c.issued.To) {
		return Criteria{}, dErrors.New(dErrors.CodeValidation, "issued range start is after its end")
	}
	if !c.expires.From.IsZero() && !c.expires.To.IsZero() && c.expires.From.After(c.expires.To) {
		return Criteria{}, dErrors.New(dErrors.CodeValidation, "expiry range start is after its end")
	}
	if c.duration.Min != nil && *c.duration.Min < 0 {
		return Criteria{}, dErrors.New(dErrors.CodeValidation, "minimum duration must not be negative")
	}
	if c.duration.Max != nil && *c.duration.Max < 0 {
		return Criteria{}, dErrors.New(dErrors.CodeValidation, "maximum duration must not be negative")
	}
	if c.duration.Min != nil && c.duration.Max != nil && *c.duration.Min > *c.duration.Max {
		return Criteria{}, dErrors.New(dErrors.CodeValidation, "minimum duration exceeds maximum duration")
	}
	if c.typ != nil && c.IsExcluded(*c.typ) {
		return Criteria{}, dErrors.New(dErrors.CodeValidation, "type "+c.typ.Name+" is both required and excluded")
	}

	if c.typ != nil {
		t := *c.typ
		c.typ = &t
	}
	if c.duration.Min != nil {
		c.duration.Min = ptr(*c.duration.Min)
	}
	if c.duration.Max != nil {
		c.duration.Max = ptr(*c.duration.Max)
	}
	c.excluded = slices.Clone(c.excluded)
	return c, nil
}

// Matches applies the filter to a single record at now. Backends use it to
// finish filters they cannot express natively.
func (c Criteria) Matches(r *Record, now time.Time) bool {
	if c.typ != nil && r.Type().Name != c.typ.Name {
		return false
	}
	if c.IsExcluded(r.Type()) {
		return false
	}
	if c.issuer != "" && r.Issuer().Name() != c.issuer {
		return false
	}
	if c.owner != uuid.Nil && r.Owner() != c.owner {
		return false
	}
	if c.reason != "" && !containsFold(r.Reason(), c.reason) {
		return false
	}
	if !c.issued.Contains(r.IssuedAt()) {
		return false
	}
	if !c.expires.IsZero() {
		exp, ok := r.ExpiresAt()
		if !ok || !c.expires.Contains(exp) {
			return false
		}
	}
	if !c.duration.IsZero() {
		if r.IsPermanent() || !c.duration.Contains(r.Duration()) {
			return false
		}
	}
	if c.activeOnly && !r.IsActive(now) {
		return false
	}
	if c.permanentOnly && !r.IsPermanent() {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

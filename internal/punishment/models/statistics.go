package models

import (
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
)

// ErrStatisticsBuilt is returned when adding to a finalized builder.
var ErrStatisticsBuilt = errors.New("statistics already built")

// Statistics summarizes an owner's punishments over a window.
type Statistics struct {
	Owner            uuid.UUID
	Window           TimeRange
	Total            int
	Active           int
	ByType           map[string]int
	ByIssuer         map[string]int
	FirstIssued      time.Time
	LastIssued       time.Time
	LastActiveIssued time.Time
	TotalDuration    time.Duration // permanent records excluded
	AverageDuration  time.Duration
	PerDay           float64
}

// StatisticsBuilder accumulates records one at a time. Build finalizes once.
type StatisticsBuilder struct {
	stats     Statistics
	now       time.Time
	timed     int
	finalized bool
}

// NewStatisticsBuilder starts statistics for owner over window, evaluating
// activity at now.
func NewStatisticsBuilder(owner uuid.UUID, window TimeRange, now time.Time) *StatisticsBuilder {
	return &StatisticsBuilder{
		now: now,
		stats: Statistics{
			Owner:    owner,
			Window:   window,
			ByType:   map[string]int{},
			ByIssuer: map[string]int{},
		},
	}
}

// Add folds one record into the summary.
func (b *StatisticsBuilder) Add(r *Record) error {
	if b.finalized {
		return ErrStatisticsBuilt
	}
	s := &b.stats
	issued := r.IssuedAt()
	s.Total++
	s.ByType[r.Type().Name]++
	s.ByIssuer[r.Issuer().Name()]++
	if s.FirstIssued.IsZero() || issued.Before(s.FirstIssued) {
		s.FirstIssued = issued
	}
	if issued.After(s.LastIssued) {
		s.LastIssued = issued
	}
	if r.IsActive(b.now) {
		s.Active++
		if issued.After(s.LastActiveIssued) {
			s.LastActiveIssued = issued
		}
	}
	if !r.IsPermanent() {
		s.TotalDuration += r.Duration()
		b.timed++
	}
	return nil
}

// Build finalizes the averages and returns the statistics.
func (b *StatisticsBuilder) Build() (Statistics, error) {
	if b.finalized {
		return Statistics{}, ErrStatisticsBuilt
	}
	b.finalized = true
	s := b.stats
	if b.timed > 0 {
		s.AverageDuration = s.TotalDuration / time.Duration(b.timed)
	}
	if s.Total > 0 {
		s.PerDay = float64(s.Total) / b.windowDays()
	}
	s.ByType = maps.Clone(s.ByType)
	s.ByIssuer = maps.Clone(s.ByIssuer)
	return s, nil
}

// windowDays is the window length in days, falling back to the observed
// span for open bounds. It never drops below one day.
func (b *StatisticsBuilder) windowDays() float64 {
	from, to := b.stats.Window.From, b.stats.Window.To
	if from.IsZero() {
		from = b.stats.FirstIssued
	}
	if to.IsZero() {
		to = b.now
	}
	days := to.Sub(from).Hours() / 24
	if days < 1 {
		return 1
	}
	return days
}

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"warden/internal/platform/metrics"
	"warden/internal/punishment/models"
)

type CacheSuite struct {
	suite.Suite
	now     time.Time
	metrics *metrics.Metrics
	cache   *Cache
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.cache = New(3, WithMetrics(s.metrics))
}

func (s *CacheSuite) record(typ models.Type, owner uuid.UUID, d time.Duration, issued time.Time) *models.Record {
	rec, err := models.NewRecord(models.Draft{
		Type:     typ,
		Target:   models.PlayerTarget{UUID: owner, Username: "steve"},
		Issuer:   models.ConsoleIssuer{},
		Reason:   "spam",
		Duration: d,
		IssuedAt: issued,
	})
	s.Require().NoError(err)
	return rec
}

func (s *CacheSuite) TestPutAndGet() {
	owner := uuid.New()
	rec := s.record(models.Ban, owner, time.Hour, s.now)

	s.True(s.cache.Put(rec))
	got, ok := s.cache.Get(rec.ID(), s.now)
	s.Require().True(ok)
	s.Same(rec, got)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheHits.WithLabelValues("BAN")))
}

func (s *CacheSuite) TestNonCacheableTypesBypass() {
	rec := s.record(models.Kick, uuid.New(), 0, s.now)

	s.False(s.cache.Put(rec))
	_, ok := s.cache.Get(rec.ID(), s.now)
	s.False(ok)
	s.Zero(s.cache.Len())
}

func (s *CacheSuite) TestPutReplacesSameID() {
	owner := uuid.New()
	rec := s.record(models.Mute, owner, time.Hour, s.now)
	other := s.record(models.Mute, owner, time.Hour, s.now.Add(time.Minute))
	s.cache.Put(rec)
	s.cache.Put(other)

	clone := rec.Clone()
	s.cache.Put(clone)

	got := s.cache.ForOwner(owner, "MUTE")
	s.Require().Len(got, 2)
	s.Equal(other.ID(), got[0].ID())
	s.Same(clone, got[1])
	s.Equal(2, s.cache.Len())
}

func (s *CacheSuite) TestGetEvictsInactive() {
	s.Run("revoked behind the cache", func() {
		rec := s.record(models.Ban, uuid.New(), 0, s.now)
		s.cache.Put(rec)

		_, err := rec.Revoke(models.ConsoleIssuer{}, "appeal", s.now.Add(time.Minute))
		s.Require().NoError(err)

		_, ok := s.cache.Get(rec.ID(), s.now.Add(2*time.Minute))
		s.False(ok)
		s.Empty(s.cache.ForOwner(rec.Owner(), ""))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheEvictions.WithLabelValues("BAN", EvictRevoked)))
	})

	s.Run("expired", func() {
		rec := s.record(models.Mute, uuid.New(), time.Minute, s.now)
		s.cache.Put(rec)

		_, ok := s.cache.Get(rec.ID(), s.now.Add(time.Minute))
		s.False(ok)
		_, ok = s.cache.Get(rec.ID(), s.now)
		s.False(ok, "evicted entries stay gone")
		s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheEvictions.WithLabelValues("MUTE", EvictExpired)))
	})
}

func (s *CacheSuite) TestActiveReturnsNewest() {
	owner := uuid.New()
	older := s.record(models.Ban, owner, 0, s.now.Add(-time.Hour))
	newer := s.record(models.Ban, owner, 0, s.now)
	expired := s.record(models.Ban, owner, time.Minute, s.now.Add(-30*time.Minute))
	s.cache.Put(newer)
	s.cache.Put(older)
	s.cache.Put(expired)

	got, ok := s.cache.Active(owner, models.Ban, s.now)
	s.Require().True(ok)
	s.Equal(newer.ID(), got.ID())

	ids := []string{}
	for _, r := range s.cache.ForOwner(owner, "BAN") {
		ids = append(ids, r.ID())
	}
	s.ElementsMatch([]string{newer.ID(), older.ID()}, ids, "expired entry evicted lazily")

	_, ok = s.cache.Active(owner, models.Mute, s.now)
	s.False(ok)
}

func (s *CacheSuite) TestCapacityEvictsOldestOwner() {
	owners := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	recs := make([]*models.Record, len(owners))
	for i, o := range owners {
		recs[i] = s.record(models.Ban, o, 0, s.now)
		s.cache.Put(recs[i])
		if i == 1 {
			// touching the first owner again makes the second the oldest
			s.cache.Put(recs[0])
		}
	}

	s.Equal(3, s.cache.Owners("BAN"))
	_, ok := s.cache.Get(recs[1].ID(), s.now)
	s.False(ok)
	for _, i := range []int{0, 2, 3} {
		_, ok := s.cache.Get(recs[i].ID(), s.now)
		s.True(ok, "owner %d kept", i)
	}
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheEvictions.WithLabelValues("BAN", EvictCapacity)))
}

func (s *CacheSuite) TestPartitionsAreIndependent() {
	for range 3 {
		s.cache.Put(s.record(models.Ban, uuid.New(), 0, s.now))
	}
	mute := s.record(models.Mute, uuid.New(), 0, s.now)
	s.cache.Put(mute)
	s.cache.Put(s.record(models.Ban, uuid.New(), 0, s.now))

	_, ok := s.cache.Get(mute.ID(), s.now)
	s.True(ok)
	s.Equal(3, s.cache.Owners("BAN"))
	s.Equal(1, s.cache.Owners("MUTE"))
}

func (s *CacheSuite) TestForOwnerAcrossTypes() {
	owner := uuid.New()
	mute := s.record(models.Mute, owner, 0, s.now)
	ban := s.record(models.Ban, owner, 0, s.now)
	s.cache.Put(mute)
	s.cache.Put(ban)

	all := s.cache.ForOwner(owner, "")
	s.Require().Len(all, 2)
	s.Equal("BAN", all[0].Type().Name)
	s.Equal("MUTE", all[1].Type().Name)
	s.Empty(s.cache.ForOwner(uuid.New(), ""))
}

func (s *CacheSuite) TestRemove() {
	rec := s.record(models.Ban, uuid.New(), 0, s.now)
	s.cache.Put(rec)

	s.True(s.cache.Remove(rec.ID()))
	s.False(s.cache.Remove(rec.ID()))
	s.Zero(s.cache.Owners("BAN"))
	s.Zero(s.cache.Len())
}

func (s *CacheSuite) TestConcurrentAccess() {
	owner := uuid.New()
	var wg sync.WaitGroup
	recs := make([]*models.Record, 50)
	for i := range recs {
		recs[i] = s.record(models.Ban, owner, 0, s.now.Add(time.Duration(i)*time.Second))
	}
	for _, rec := range recs {
		wg.Go(func() {
			s.cache.Put(rec)
			s.cache.Active(owner, models.Ban, s.now)
			s.cache.Get(rec.ID(), s.now)
		})
	}
	wg.Wait()

	s.Len(s.cache.ForOwner(owner, "BAN"), len(recs))
	got, ok := s.cache.Active(owner, models.Ban, s.now.Add(time.Hour))
	s.Require().True(ok)
	s.Equal(recs[len(recs)-1].ID(), got.ID())
}

package models_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/punishment/models"
	dErrors "warden/pkg/domain-errors"
)

func TestCriteriaBuild(t *testing.T) {
	now := time.Now()

	t.Run("rejects reversed issued range", func(t *testing.T) {
		_, err := models.NewCriteria().IssuedBetween(now, now.Add(-time.Hour)).Build()
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects negative and reversed duration bounds", func(t *testing.T) {
		_, err := models.NewCriteria().MinDuration(-time.Second).Build()
		assert.Error(t, err)
		_, err = models.NewCriteria().MinDuration(time.Hour).MaxDuration(time.Minute).Build()
		assert.Error(t, err)
	})

	t.Run("rejects a type that is also excluded", func(t *testing.T) {
		_, err := models.NewCriteria().Type(models.Ban).Exclude(models.Ban).Build()
		assert.Error(t, err)
	})

	t.Run("built criteria do not see later builder changes", func(t *testing.T) {
		b := models.NewCriteria().Exclude(models.Kick)
		c, err := b.Build()
		require.NoError(t, err)
		b.Exclude(models.Warn)
		assert.Len(t, c.Excluded(), 1)
	})
}

func TestCriteriaMatches(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	owner := uuid.New()
	rec, err := models.NewRecord(models.Draft{
		Type:     models.Mute,
		Target:   models.PlayerTarget{UUID: owner, Username: "alex"},
		Issuer:   models.Console,
		Reason:   "Spamming chat",
		Duration: 2 * time.Hour,
		IssuedAt: now,
	})
	require.NoError(t, err)

	cases := []struct {
		name  string
		build *models.CriteriaBuilder
		want  bool
	}{
		{"empty", models.NewCriteria(), true},
		{"type", models.NewCriteria().Type(models.Mute), true},
		{"other type", models.NewCriteria().Type(models.Ban), false},
		{"excluded", models.NewCriteria().Exclude(models.Mute), false},
		{"owner", models.NewCriteria().Owner(owner), true},
		{"other owner", models.NewCriteria().Owner(uuid.New()), false},
		{"issuer", models.NewCriteria().Issuer(models.ConsoleName), true},
		{"reason ignores case", models.NewCriteria().ReasonContains("spam"), true},
		{"issued window", models.NewCriteria().IssuedBetween(now.Add(-time.Hour), now), true},
		{"issued window before", models.NewCriteria().IssuedBetween(now.Add(-2*time.Hour), now.Add(-time.Hour)), false},
		{"expiry window", models.NewCriteria().ExpiresBetween(now, now.Add(3*time.Hour)), true},
		{"duration range", models.NewCriteria().MinDuration(time.Hour).MaxDuration(2 * time.Hour), true},
		{"duration too short", models.NewCriteria().MinDuration(3 * time.Hour), false},
		{"permanent only", models.NewCriteria().PermanentOnly(), false},
		{"active only", models.NewCriteria().ActiveOnly(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := tc.build.Build()
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Matches(rec, now.Add(time.Minute)))
		})
	}

	t.Run("active only skips expired", func(t *testing.T) {
		c, err := models.NewCriteria().ActiveOnly().Build()
		require.NoError(t, err)
		assert.False(t, c.Matches(rec, now.Add(3*time.Hour)))
	})
}

func TestStatisticsBuilder(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	owner := uuid.New()
	target := models.PlayerTarget{UUID: owner, Username: "alex"}
	mk := func(typ models.Type, d time.Duration, issued time.Time, issuer models.Issuer) *models.Record {
		rec, err := models.NewRecord(models.Draft{Type: typ, Target: target, Issuer: issuer, Duration: d, IssuedAt: issued})
		require.NoError(t, err)
		return rec
	}
	mod := models.PlayerIssuer{UUID: uuid.New(), Username: "mod"}

	window := models.TimeRange{From: now.Add(-10 * 24 * time.Hour), To: now}
	b := models.NewStatisticsBuilder(owner, window, now)
	require.NoError(t, b.Add(mk(models.Ban, 0, now.Add(-9*24*time.Hour), mod)))
	require.NoError(t, b.Add(mk(models.Mute, time.Hour, now.Add(-5*24*time.Hour), mod)))
	require.NoError(t, b.Add(mk(models.Mute, 3*time.Hour, now.Add(-time.Hour), models.Console)))
	require.NoError(t, b.Add(mk(models.Kick, 0, now.Add(-2*time.Hour), models.Console)))

	stats, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, map[string]int{"BAN": 1, "MUTE": 2, "KICK": 1}, stats.ByType)
	assert.Equal(t, map[string]int{"mod": 2, models.ConsoleName: 2}, stats.ByIssuer)
	// permanent ban, live mute, kick (permanent, never expires)
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, now.Add(-9*24*time.Hour), stats.FirstIssued)
	assert.Equal(t, now.Add(-time.Hour), stats.LastIssued)
	assert.Equal(t, now.Add(-time.Hour), stats.LastActiveIssued)
	assert.Equal(t, 4*time.Hour, stats.TotalDuration)
	assert.Equal(t, 2*time.Hour, stats.AverageDuration)
	assert.InDelta(t, 0.4, stats.PerDay, 1e-9)

	assert.ErrorIs(t, b.Add(mk(models.Ban, 0, now, mod)), models.ErrStatisticsBuilt)
	_, err = b.Build()
	assert.ErrorIs(t, err, models.ErrStatisticsBuilt)
}

func TestTypeRegistry(t *testing.T) {
	r := models.DefaultTypes()
	ban, ok := r.Lookup("ban")
	require.True(t, ok)
	assert.Equal(t, models.Ban, ban)

	require.NoError(t, r.Register(models.Type{Name: "jail", Cacheable: true, SupportsDuration: true}))
	jail, err := r.Parse("JAIL")
	require.NoError(t, err)
	assert.True(t, jail.Cacheable)

	assert.True(t, dErrors.HasCode(r.Register(models.Type{Name: "Ban"}), dErrors.CodeConflict))
	_, err = r.Parse("unknown")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	assert.Len(t, r.All(), 5)
}

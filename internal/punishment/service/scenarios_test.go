package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/punishment/models"
	"warden/pkg/platform/sentinel"
	"warden/pkg/testutil"
)

func TestBanExpires(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	owner := uuid.New()

	testutil.Given(t, "a ten minute ban for spam", func(t *testing.T) {
		rec, err := e.manager.Create(ctx, models.Ban, models.PlayerTarget{UUID: owner, Username: "p"}, models.ConsoleIssuer{}, "spam", 10*time.Minute)
		require.NoError(t, err)
		e.manager.Apply(ctx, rec)

		testutil.Then(t, "it is active immediately", func(t *testing.T) {
			got, err := e.manager.GetActive(ctx, owner, models.Ban)
			require.NoError(t, err)
			assert.Equal(t, rec.ID(), got.ID())
		})

		testutil.When(t, "the clock passes the expiry", func(t *testing.T) {
			e.clock.Advance(10*time.Minute + time.Second)

			testutil.Then(t, "no active ban is found", func(t *testing.T) {
				_, err := e.manager.GetActive(ctx, owner, models.Ban)
				assert.ErrorIs(t, err, sentinel.ErrNotFound)
			})
		})
	})
}

func TestRevokeTwice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	testutil.Given(t, "an applied ban", func(t *testing.T) {
		rec, err := e.manager.Create(ctx, models.Ban, models.PlayerTarget{UUID: uuid.New(), Username: "p"}, models.ConsoleIssuer{}, "", 0)
		require.NoError(t, err)
		_, err = e.manager.Apply(ctx, rec).Wait(ctx)
		require.NoError(t, err)

		testutil.When(t, "it is revoked twice", func(t *testing.T) {
			first, err := e.manager.Revoke(ctx, rec.ID(), models.ConsoleIssuer{}, "appeal")
			require.NoError(t, err)
			second, err := e.manager.Revoke(ctx, rec.ID(), models.ConsoleIssuer{}, "appeal")
			require.NoError(t, err)

			testutil.Then(t, "only the first call revokes", func(t *testing.T) {
				assert.True(t, first)
				assert.False(t, second)
				assert.True(t, rec.IsRevoked())

				revoked := 0
				for _, rev := range rec.Revisions() {
					if rev.Kind == models.RevisionRevoked {
						revoked++
					}
				}
				assert.Equal(t, 1, revoked)
			})
		})
	})
}

func TestConcurrentApplyForOneOwner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	owner := uuid.New()
	target := models.PlayerTarget{UUID: owner, Username: "p"}

	testutil.When(t, "two bans for the same owner are applied concurrently", func(t *testing.T) {
		recs := make([]*models.Record, 2)
		for i := range recs {
			rec, err := e.manager.Create(ctx, models.Ban, target, models.ConsoleIssuer{}, "", 0)
			require.NoError(t, err)
			recs[i] = rec
		}
		var wg sync.WaitGroup
		for _, rec := range recs {
			wg.Go(func() { e.manager.Apply(ctx, rec) })
		}
		wg.Wait()

		testutil.Then(t, "both are in the owner's cache bucket", func(t *testing.T) {
			var ids []string
			for _, r := range e.manager.ActiveFor(ctx, owner, "BAN") {
				ids = append(ids, r.ID())
			}
			assert.ElementsMatch(t, []string{recs[0].ID(), recs[1].ID()}, ids)
		})
	})
}

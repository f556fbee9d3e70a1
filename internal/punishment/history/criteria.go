package history

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/internal/punishment/adapters"
	"warden/internal/punishment/models"
	"warden/internal/storage/query"
)

type builder = query.Builder[*models.Record]

func newQuery() *builder {
	return query.New[*models.Record](nil, nil)
}

func millis(t time.Time) int64 {
	return models.NormalizeTime(t).UnixMilli()
}

// compile translates c into a record query. Everything but the duration
// range is pushed to the backend; durations are stored as strings and are
// filtered in memory afterwards.
func compile(c models.Criteria, now time.Time) *builder {
	b := newQuery()
	if t, ok := c.Type(); ok {
		b.Where(adapters.FieldType).Eq(t.Name)
	}
	if excluded := c.Excluded(); len(excluded) > 0 {
		names := make([]any, len(excluded))
		for i, t := range excluded {
			names[i] = t.Name
		}
		b.Not().Where(adapters.FieldType).In(names...)
	}
	if issuer := c.IssuerName(); issuer != "" {
		b.Where(adapters.FieldIssuerName).Eq(issuer)
	}
	if owner := c.Owner(); owner != uuid.Nil {
		b.Where(adapters.FieldTargetID).Eq(owner.String())
	}
	if reason := c.ReasonContains(); reason != "" {
		b.Where(adapters.FieldReason).Like(containsPattern(reason))
	}
	between(b, adapters.FieldIssuedAt, c.Issued())
	between(b, adapters.FieldExpiresAt, c.Expires())
	if c.ActiveOnly() {
		active(b, now)
	}
	if c.PermanentOnly() {
		b.Where(adapters.FieldDuration).Eq("")
	}
	return b
}

func between(b *builder, field string, r models.TimeRange) {
	if !r.From.IsZero() {
		b.Where(field).Gte(millis(r.From))
	}
	if !r.To.IsZero() {
		b.Where(field).Lte(millis(r.To))
	}
}

// active keeps unrevoked records that have not expired at now.
func active(b *builder, now time.Time) {
	b.Where(adapters.FieldRevocation).Eq(nil).
		Group(func(g *builder) {
			g.Where(adapters.FieldExpiresAt).Eq(nil).
				Or().Where(adapters.FieldExpiresAt).Gt(millis(now))
		})
}

// containsPattern builds a Like pattern matching s anywhere, with s's own
// wildcards escaped.
func containsPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

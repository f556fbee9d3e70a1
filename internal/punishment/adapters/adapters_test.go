package adapters_test

import (
	"net/netip"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"warden/internal/punishment/adapters"
	"warden/internal/punishment/models"
	"warden/internal/storage/codec"
)

type AdaptersSuite struct {
	suite.Suite
	reg    *codec.Registry
	issued time.Time
	mod    models.PlayerIssuer
}

func TestAdaptersSuite(t *testing.T) {
	suite.Run(t, new(AdaptersSuite))
}

func (s *AdaptersSuite) SetupTest() {
	s.reg = adapters.NewRegistry(models.DefaultTypes())
	s.issued = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.mod = models.PlayerIssuer{UUID: uuid.New(), Username: "moderator"}
}

// roundTrip pushes a document through JSON-shaped normalization so the
// decoded form matches what a backend hands back.
func (s *AdaptersSuite) roundTrip(doc codec.Document) codec.Document {
	out, err := codec.Normalize(doc)
	s.Require().NoError(err)
	return out
}

func (s *AdaptersSuite) TestTargetVariantsRoundTrip() {
	seen := s.issued.Add(-time.Hour)
	targets := []models.Target{
		models.PlayerTarget{UUID: uuid.New(), Username: "steve", Seen: seen},
		models.NewAddressTarget(netip.MustParseAddr("203.0.113.7"), "", seen),
		models.NewAddressTarget(netip.MustParseAddr("2001:db8::1"), "office", time.Time{}),
		models.IdentityTarget{UUID: uuid.New(), Label: "alt account", Seen: seen},
		models.IdentityTarget{UUID: uuid.New()},
	}
	for _, target := range targets {
		s.Run(string(target.Kind())+"/"+target.Name(), func() {
			doc, err := codec.Encode(s.reg, target)
			s.Require().NoError(err)
			s.Equal(string(target.Kind()), doc["kind"])
			s.Equal(target.ID().String(), doc["id"])

			got, err := codec.Decode[models.Target](s.reg, s.roundTrip(doc))
			s.Require().NoError(err)
			s.Equal(target, got)
		})
	}
}

func (s *AdaptersSuite) TestIssuerVariantsRoundTrip() {
	doc, err := codec.Encode[models.Issuer](s.reg, s.mod)
	s.Require().NoError(err)
	s.Equal(codec.Document{"kind": "player", "name": "moderator", "id": s.mod.UUID.String()}, doc)

	got, err := codec.Decode[models.Issuer](s.reg, doc)
	s.Require().NoError(err)
	player, ok := got.(models.PlayerIssuer)
	s.Require().True(ok)
	s.Equal(s.mod.UUID, player.UUID)
	s.Equal("moderator", player.Username)
	s.False(player.HasPermission("warden.ban"), "permissions are not persisted")

	doc, err = codec.Encode(s.reg, models.Console)
	s.Require().NoError(err)
	s.Equal(codec.Document{"kind": "console", "name": "CONSOLE"}, doc)
	got, err = codec.Decode[models.Issuer](s.reg, doc)
	s.Require().NoError(err)
	s.Equal(models.Console, got)
}

func (s *AdaptersSuite) TestConcreteDecodeRejectsOtherKind() {
	doc, err := codec.Encode[models.Issuer](s.reg, models.Console)
	s.Require().NoError(err)
	_, err = codec.Decode[models.PlayerIssuer](s.reg, doc)
	s.ErrorIs(err, codec.ErrMalformed)
}

func (s *AdaptersSuite) newRecord(typ models.Type, d time.Duration) *models.Record {
	rec, err := models.NewRecord(models.Draft{
		Type:     typ,
		Target:   models.PlayerTarget{UUID: uuid.New(), Username: "steve"},
		Issuer:   s.mod,
		Reason:   "xray",
		Duration: d,
		IssuedAt: s.issued,
	})
	s.Require().NoError(err)
	return rec
}

func (s *AdaptersSuite) TestRecordDocumentShape() {
	rec := s.newRecord(models.Ban, 10*time.Minute)
	doc, err := codec.Encode(s.reg, rec)
	s.Require().NoError(err)

	s.Equal(rec.ID(), doc["id"])
	s.Equal("BAN", doc["type"])
	s.Equal("10m0s", doc["duration"])
	s.Equal(s.issued.UnixMilli(), doc["issuedAt"])
	s.Equal(s.issued.Add(10*time.Minute).UnixMilli(), doc["expiresAt"])
	s.Equal("xray", doc["reason"])
	s.NotContains(doc, "revocation")
	s.Equal([]any{}, doc["notes"])

	permanent := s.newRecord(models.Mute, 0)
	doc, err = codec.Encode(s.reg, permanent)
	s.Require().NoError(err)
	s.Equal("", doc["duration"])
	s.NotContains(doc, "expiresAt")
}

func (s *AdaptersSuite) TestRecordRoundTrip() {
	rec := s.newRecord(models.Ban, time.Hour)
	_, err := rec.AddNote(s.mod, "appeal pending", s.issued.Add(time.Minute))
	s.Require().NoError(err)
	_, err = rec.Revoke(models.Console, "served", s.issued.Add(2*time.Minute))
	s.Require().NoError(err)

	doc, err := codec.Encode(s.reg, rec)
	s.Require().NoError(err)
	got, err := codec.Decode[*models.Record](s.reg, s.roundTrip(doc))
	s.Require().NoError(err)

	s.Equal(rec.ID(), got.ID())
	s.Equal(rec.Type(), got.Type())
	s.Equal(rec.Target(), got.Target())
	s.Equal(rec.IssuedAt(), got.IssuedAt())
	s.Equal(rec.Duration(), got.Duration())
	exp, _ := rec.ExpiresAt()
	gotExp, ok := got.ExpiresAt()
	s.True(ok)
	s.Equal(exp, gotExp)
	s.Equal([]string{"appeal pending"}, got.Notes())
	rv, ok := got.Revocation()
	s.Require().True(ok)
	s.Equal(models.Console, rv.Revoker)
	s.Equal("served", rv.Reason)
	s.Empty(got.Revisions(), "revisions live in the revision log")
}

func (s *AdaptersSuite) TestRecordDecodeFailures() {
	rec := s.newRecord(models.Ban, time.Hour)
	good, err := codec.Encode(s.reg, rec)
	s.Require().NoError(err)

	tests := map[string]func(codec.Document){
		"unknown type":        func(d codec.Document) { d["type"] = "JAIL" },
		"missing target":      func(d codec.Document) { delete(d, "target") },
		"bad duration":        func(d codec.Document) { d["duration"] = "forever" },
		"inconsistent expiry": func(d codec.Document) { d["expiresAt"] = int64(1) },
		"bad target kind": func(d codec.Document) {
			d["target"] = codec.Document{"kind": "planet", "id": uuid.NewString()}
		},
	}
	for name, mutate := range tests {
		s.Run(name, func() {
			doc := codec.Clone(good)
			mutate(doc)
			_, err := codec.Decode[*models.Record](s.reg, doc)
			s.ErrorIs(err, codec.ErrMalformed)
		})
	}
}

func (s *AdaptersSuite) TestCustomTypeNeedsRegistration() {
	types, err := models.NewTypeRegistry(models.Type{Name: "JAIL", Cacheable: true, SupportsDuration: true})
	s.Require().NoError(err)
	reg := adapters.NewRegistry(types)
	jail, _ := types.Lookup("JAIL")

	doc, err := codec.Encode(reg, s.newRecord(jail, time.Hour))
	s.Require().NoError(err)
	_, err = codec.Decode[*models.Record](reg, doc)
	s.NoError(err)
	_, err = codec.Decode[*models.Record](s.reg, doc)
	s.ErrorIs(err, codec.ErrMalformed)
}

func TestRevisionRoundTrip(t *testing.T) {
	reg := adapters.NewRegistry(nil)
	rec, err := models.NewRecord(models.Draft{
		Type:     models.Mute,
		Target:   models.PlayerTarget{UUID: uuid.New(), Username: "alex"},
		Issuer:   models.Console,
		Duration: 5 * time.Minute,
		IssuedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	rev, err := rec.ModifyDuration(models.Console, 30*time.Minute, rec.IssuedAt().Add(time.Second))
	require.NoError(t, err)
	cleared := rec.ClearNotes(models.Console, rec.IssuedAt().Add(2*time.Second))

	for _, want := range []models.Revision{rec.Revisions()[0], rev, cleared} {
		doc, err := codec.Encode(reg, want)
		require.NoError(t, err)
		assert.Equal(t, rec.ID(), doc["recordId"])

		normalized, err := codec.Normalize(doc)
		require.NoError(t, err)
		got, err := codec.Decode[models.Revision](reg, normalized)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRecordSchemaDrivesSortCasts(t *testing.T) {
	reg := adapters.NewRegistry(nil)
	kinds := reg.FieldKinds(reflect.TypeFor[*models.Record]())
	assert.Equal(t, codec.KindInt, kinds[adapters.FieldIssuedAt])
	assert.Equal(t, codec.KindString, kinds[adapters.FieldTargetID])
}

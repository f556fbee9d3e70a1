// Package adapters holds the document adapters for the punishment model.
// Every adapter writes the same shape regardless of backend; timestamps are
// epoch milliseconds and a permanent record stores an empty duration.
package adapters

import (
	"fmt"
	"reflect"
	"time"

	"warden/internal/punishment/models"
	"warden/internal/storage/codec"
)

// Document keys shared with query builders.
const (
	FieldID           = "id"
	FieldType         = "type"
	FieldTargetID     = "target.id"
	FieldTargetKind   = "target.kind"
	FieldIssuerName   = "issuer.name"
	FieldReason       = "reason"
	FieldIssuedAt     = "issuedAt"
	FieldDuration     = "duration"
	FieldExpiresAt    = "expiresAt"
	FieldRevocation   = "revocation"
	FieldRevokedAt    = "revocation.revokedAt"
	FieldRevisionRec  = "recordId"
	FieldRevisionAt   = "at"
	FieldRevisionKind = "kind"
)

var recordType = reflect.TypeFor[*models.Record]()

// RecordAdapter encodes *models.Record. Revisions are not embedded; they are
// kept in the revision log.
type RecordAdapter struct {
	types *models.TypeRegistry
}

func NewRecordAdapter(types *models.TypeRegistry) RecordAdapter {
	if types == nil {
		types = models.DefaultTypes()
	}
	return RecordAdapter{types: types}
}

func (RecordAdapter) CanHandle(t reflect.Type) bool { return t == recordType }

func (RecordAdapter) FieldKinds() map[string]codec.Kind {
	return map[string]codec.Kind{
		FieldID:           codec.KindString,
		FieldType:         codec.KindString,
		FieldTargetID:     codec.KindString,
		FieldTargetKind:   codec.KindString,
		"target.name":     codec.KindString,
		"target.lastSeen": codec.KindInt,
		FieldIssuerName:   codec.KindString,
		"issuer.kind":     codec.KindString,
		FieldReason:       codec.KindString,
		FieldIssuedAt:     codec.KindInt,
		FieldDuration:     codec.KindString,
		FieldExpiresAt:    codec.KindInt,
		FieldRevokedAt:    codec.KindInt,
	}
}

func (RecordAdapter) Serialize(v any) (codec.Document, error) {
	rec, ok := v.(*models.Record)
	if !ok || rec == nil {
		return nil, fmt.Errorf("%w: %T is not a record", codec.ErrUnsupported, v)
	}
	s := rec.Snapshot()
	target, err := encodeTarget(s.Target)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", s.ID, err)
	}
	issuer, err := encodeIssuer(s.Issuer)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", s.ID, err)
	}

	notes := make([]any, len(s.Notes))
	for i, n := range s.Notes {
		notes[i] = n
	}
	doc := codec.Document{
		FieldID:       s.ID,
		FieldType:     s.Type.Name,
		"target":      target,
		"issuer":      issuer,
		FieldIssuedAt: codec.Millis(s.IssuedAt),
		FieldDuration: encodeDuration(s.Duration),
		"notes":       notes,
	}
	if s.Reason != "" {
		doc[FieldReason] = s.Reason
	}
	if !s.ExpiresAt.IsZero() {
		doc[FieldExpiresAt] = codec.Millis(s.ExpiresAt)
	}
	if s.Revocation != nil {
		revoker, err := encodeIssuer(s.Revocation.Revoker)
		if err != nil {
			return nil, fmt.Errorf("record %s revocation: %w", s.ID, err)
		}
		rv := codec.Document{"revoker": revoker, "revokedAt": codec.Millis(s.Revocation.RevokedAt)}
		if s.Revocation.Reason != "" {
			rv["reason"] = s.Revocation.Reason
		}
		doc[FieldRevocation] = rv
	}
	return doc, nil
}

func (a RecordAdapter) Deserialize(doc codec.Document, t reflect.Type) (any, error) {
	if t != recordType {
		return nil, fmt.Errorf("%w: record adapter cannot decode %v", codec.ErrUnsupported, t)
	}
	r := codec.NewReader(doc)
	s := models.Snapshot{
		ID:        r.String(FieldID),
		Reason:    r.OptString(FieldReason),
		IssuedAt:  r.Time(FieldIssuedAt),
		Duration:  r.Duration(FieldDuration),
		ExpiresAt: r.OptTime(FieldExpiresAt),
		Notes:     r.Strings("notes"),
	}
	typeName := r.String(FieldType)
	targetDoc := r.Doc("target")
	issuerDoc := r.Doc("issuer")
	revocationDoc, revoked := r.OptDoc(FieldRevocation)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}

	typ, ok := a.types.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: record %s has unknown type %q", codec.ErrMalformed, s.ID, typeName)
	}
	s.Type = typ

	var err error
	if s.Target, err = decodeTarget(targetDoc); err != nil {
		return nil, fmt.Errorf("record %s: %w", s.ID, err)
	}
	if s.Issuer, err = decodeIssuer(issuerDoc); err != nil {
		return nil, fmt.Errorf("record %s: %w", s.ID, err)
	}
	if revoked {
		rv, err := decodeRevocation(revocationDoc)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", s.ID, err)
		}
		s.Revocation = &rv
	}

	rec, err := models.Restore(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrMalformed, err)
	}
	return rec, nil
}

func decodeRevocation(doc codec.Document) (models.Revocation, error) {
	r := codec.NewReader(doc)
	revokerDoc := r.Doc("revoker")
	at := r.Time("revokedAt")
	reason := r.OptString("reason")
	if err := r.Err(); err != nil {
		return models.Revocation{}, fmt.Errorf("revocation: %w", err)
	}
	revoker, err := decodeIssuer(revokerDoc)
	if err != nil {
		return models.Revocation{}, fmt.Errorf("revocation: %w", err)
	}
	return models.Revocation{Revoker: revoker, RevokedAt: at, Reason: reason}, nil
}

// encodeDuration writes "" for permanent records.
func encodeDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

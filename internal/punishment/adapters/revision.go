package adapters

import (
	"fmt"
	"reflect"

	"warden/internal/punishment/models"
	"warden/internal/storage/codec"
)

var revisionType = reflect.TypeFor[models.Revision]()

// RevisionAdapter encodes revision log entries.
type RevisionAdapter struct{}

func (RevisionAdapter) CanHandle(t reflect.Type) bool { return t == revisionType }

func (RevisionAdapter) FieldKinds() map[string]codec.Kind {
	return map[string]codec.Kind{
		FieldID:           codec.KindString,
		FieldRevisionRec:  codec.KindString,
		FieldRevisionKind: codec.KindString,
		FieldRevisionAt:   codec.KindInt,
		"actor.name":      codec.KindString,
	}
}

func (RevisionAdapter) Serialize(v any) (codec.Document, error) {
	rev, ok := v.(models.Revision)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a revision", codec.ErrUnsupported, v)
	}
	metadata := make(codec.Document, len(rev.Metadata))
	for k, v := range rev.Metadata {
		metadata[k] = v
	}
	doc := codec.Document{
		FieldID:           rev.ID,
		FieldRevisionRec:  rev.RecordID,
		FieldRevisionKind: string(rev.Kind),
		FieldRevisionAt:   codec.Millis(rev.At),
		"metadata":        metadata,
	}
	if rev.Actor != nil {
		actor, err := encodeIssuer(rev.Actor)
		if err != nil {
			return nil, fmt.Errorf("revision %s: %w", rev.ID, err)
		}
		doc["actor"] = actor
	}
	if rev.OldValue != nil {
		doc["oldValue"] = *rev.OldValue
	}
	if rev.NewValue != nil {
		doc["newValue"] = *rev.NewValue
	}
	if rev.OldDuration != nil {
		doc["oldDuration"] = encodeDuration(*rev.OldDuration)
	}
	if rev.NewDuration != nil {
		doc["newDuration"] = encodeDuration(*rev.NewDuration)
	}
	if rev.Reason != "" {
		doc[FieldReason] = rev.Reason
	}
	return doc, nil
}

func (RevisionAdapter) Deserialize(doc codec.Document, t reflect.Type) (any, error) {
	if t != revisionType {
		return nil, fmt.Errorf("%w: revision adapter cannot decode %v", codec.ErrUnsupported, t)
	}
	r := codec.NewReader(doc)
	rev := models.Revision{
		ID:          r.String(FieldID),
		RecordID:    r.String(FieldRevisionRec),
		Kind:        models.RevisionKind(r.String(FieldRevisionKind)),
		At:          r.Time(FieldRevisionAt),
		OldValue:    r.OptStringPtr("oldValue"),
		NewValue:    r.OptStringPtr("newValue"),
		OldDuration: r.OptDurationPtr("oldDuration"),
		NewDuration: r.OptDurationPtr("newDuration"),
		Reason:      r.OptString(FieldReason),
		Metadata:    r.StringMap("metadata"),
	}
	actorDoc, hasActor := r.OptDoc("actor")
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("revision: %w", err)
	}
	if hasActor {
		actor, err := decodeIssuer(actorDoc)
		if err != nil {
			return nil, fmt.Errorf("revision %s: %w", rev.ID, err)
		}
		rev.Actor = actor
	}
	return rev, nil
}

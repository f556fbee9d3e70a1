package models

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// RevisionKind names the change a revision records.
type RevisionKind string

const (
	RevisionCreated          RevisionKind = "created"
	RevisionReasonUpdated    RevisionKind = "reason_updated"
	RevisionDurationModified RevisionKind = "duration_modified"
	RevisionRevoked          RevisionKind = "revoked"
	RevisionAppealed         RevisionKind = "appealed"
	RevisionAppealApproved   RevisionKind = "appeal_approved"
	RevisionAppealDenied     RevisionKind = "appeal_denied"
	RevisionExpired          RevisionKind = "expired"
	RevisionRestored         RevisionKind = "restored"
	RevisionNoteAdded        RevisionKind = "note_added"
	RevisionNotesCleared     RevisionKind = "notes_cleared"
	RevisionTransferred      RevisionKind = "transferred"
)

// Revision is one immutable entry of a record's audit trail.
type Revision struct {
	ID          string
	RecordID    string
	Kind        RevisionKind
	At          time.Time
	Actor       Issuer // nil when the change had no attributable actor
	OldValue    *string
	NewValue    *string
	OldDuration *time.Duration
	NewDuration *time.Duration
	Reason      string
	Metadata    map[string]string
}

func newRevision(recordID string, kind RevisionKind, actor Issuer, at time.Time) Revision {
	return Revision{
		ID:       uuid.NewString(),
		RecordID: recordID,
		Kind:     kind,
		At:       NormalizeTime(at),
		Actor:    actor,
		Metadata: map[string]string{},
	}
}

// clone copies the mutable parts so callers never share state with the record.
func (r Revision) clone() Revision {
	r.Metadata = maps.Clone(r.Metadata)
	if r.Metadata == nil {
		r.Metadata = map[string]string{}
	}
	if r.OldValue != nil {
		r.OldValue = ptr(*r.OldValue)
	}
	if r.NewValue != nil {
		r.NewValue = ptr(*r.NewValue)
	}
	if r.OldDuration != nil {
		r.OldDuration = ptr(*r.OldDuration)
	}
	if r.NewDuration != nil {
		r.NewDuration = ptr(*r.NewDuration)
	}
	return r
}

func ptr[T any](v T) *T { return &v }

// NormalizeTime drops the monotonic reading and sub-millisecond precision so
// timestamps survive a round trip through any backend unchanged.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Millisecond)
}

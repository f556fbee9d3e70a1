package service

import (
	"context"
	"fmt"

	"warden/internal/punishment/adapters"
	"warden/internal/punishment/models"
	"warden/internal/storage/query"
	"warden/internal/storage/repository"
	dErrors "warden/pkg/domain-errors"
)

// RevisionRepository is the repository type backing a RevisionLog.
type RevisionRepository = repository.Repository[string, models.Revision]

// RevisionLog is the append-only audit trail of every record. Entries are
// keyed by revision id, so appending the same revision twice is harmless;
// nothing here ever deletes or rewrites an entry.
type RevisionLog struct {
	repo *RevisionRepository
}

func NewRevisionLog(repo *RevisionRepository) *RevisionLog {
	return &RevisionLog{repo: repo}
}

// RevisionID is the identity function for revision repositories.
func RevisionID(r models.Revision) string { return r.ID }

// Append stores revs as one batch.
func (l *RevisionLog) Append(ctx context.Context, revs ...models.Revision) error {
	if len(revs) == 0 {
		return nil
	}
	b := l.repo.Batch()
	for _, rev := range revs {
		if rev.ID == "" || rev.RecordID == "" {
			return dErrors.New(dErrors.CodeValidation, "revision id and record id are required")
		}
		b.Upsert(rev)
	}
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("append %d revisions: %w", len(revs), err)
	}
	return nil
}

// ForRecord returns the revisions of recordID, oldest first.
func (l *RevisionLog) ForRecord(ctx context.Context, recordID string) ([]models.Revision, error) {
	if recordID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	return l.repo.Query().
		Where(adapters.FieldRevisionRec).Eq(recordID).
		SortBy(adapters.FieldRevisionAt, query.Asc).
		Execute(ctx)
}

// CountFor returns how many revisions recordID has.
func (l *RevisionLog) CountFor(ctx context.Context, recordID string) (int64, error) {
	return l.repo.Query().Where(adapters.FieldRevisionRec).Eq(recordID).Count(ctx)
}

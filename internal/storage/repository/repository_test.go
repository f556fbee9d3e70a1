package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"warden/internal/platform/metrics"
	"warden/internal/storage/codec"
	"warden/internal/storage/memory"
	"warden/internal/storage/query"
	"warden/internal/storage/repository"
	"warden/pkg/async"
	"warden/pkg/platform/sentinel"
)

type noteID string

type note struct {
	ID      noteID    `doc:"id"`
	Owner   string    `doc:"owner"`
	Body    string    `doc:"body"`
	Created time.Time `doc:"created"`
}

// failingStore fails every call after the wrapped store is consulted.
type failingStore struct {
	repository.DocumentStore
	err error
}

func (f failingStore) Upsert(context.Context, string, codec.Document) error { return f.err }
func (f failingStore) Find(context.Context, query.Spec) ([]query.Item, error) {
	return nil, f.err
}

type RepositorySuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	metrics *metrics.Metrics
	repo    *repository.Repository[noteID, note]

	mu     sync.Mutex
	events []repository.Event
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.events = nil
	s.repo = repository.New("notes", s.store, codec.NewRegistry(), func(n note) noteID { return n.ID },
		repository.WithMetrics(s.metrics))
	s.repo.Subscribe(repository.ObserverFunc(func(_ context.Context, e repository.Event) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, e)
	}))
}

func (s *RepositorySuite) note(id, owner, body string) note {
	return note{ID: noteID(id), Owner: owner, Body: body, Created: time.UnixMilli(1_700_000_000_000).UTC()}
}

func (s *RepositorySuite) TestCRUD() {
	s.Run("save then find", func() {
		n := s.note("n1", "alex", "hello")
		saved, err := s.repo.Save(s.ctx, n)
		s.Require().NoError(err)
		s.Equal(n, saved)

		found, err := s.repo.FindByID(s.ctx, "n1")
		s.Require().NoError(err)
		s.Equal(n, found)
	})

	s.Run("unknown id is not found, not a storage failure", func() {
		_, err := s.repo.FindByID(s.ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.NotErrorIs(err, repository.ErrStorage)
	})

	s.Run("exists, count and delete", func() {
		_, err := s.repo.Save(s.ctx, s.note("n2", "sam", "x"))
		s.Require().NoError(err)

		ok, err := s.repo.ExistsByID(s.ctx, "n2")
		s.Require().NoError(err)
		s.True(ok)

		n, err := s.repo.Count(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(2), n)

		existed, err := s.repo.Delete(s.ctx, s.note("n2", "", ""))
		s.Require().NoError(err)
		s.True(existed)
		existed, err = s.repo.DeleteByID(s.ctx, "n2")
		s.Require().NoError(err)
		s.False(existed)
	})

	s.Run("empty identity is rejected", func() {
		_, err := s.repo.Save(s.ctx, note{Body: "x"})
		s.Error(err)
	})
}

func (s *RepositorySuite) TestQuery() {
	_, err := s.repo.SaveAll(s.ctx, []note{
		s.note("a", "alex", "first"),
		s.note("b", "sam", "second"),
		s.note("c", "alex", "third"),
	})
	s.Require().NoError(err)

	out, err := s.repo.Query().Where("owner").Eq("alex").SortBy("body", query.Desc).Execute(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(out, 2)
	s.Equal(noteID("c"), out[0].ID)
	s.Equal(noteID("a"), out[1].ID)

	n, err := s.repo.Query().Where("owner").Eq("alex").Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	all, err := s.repo.FindAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *RepositorySuite) TestEvents() {
	_, err := s.repo.Save(s.ctx, s.note("e1", "alex", "x"))
	s.Require().NoError(err)
	_, err = s.repo.DeleteByID(s.ctx, "e1")
	s.Require().NoError(err)
	_, err = s.repo.DeleteByID(s.ctx, "e1")
	s.Require().NoError(err)
	s.Require().NoError(s.repo.Batch().Insert(s.note("e2", "a", "b"), s.note("e3", "a", "b")).Commit(s.ctx))
	s.Error(s.repo.Batch().Insert(s.note("e2", "a", "b")).Commit(s.ctx))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().Len(s.events, 3)
	s.Equal(repository.EventSaved, s.events[0].Kind)
	s.Equal("e1", s.events[0].Document["id"])
	s.Equal(repository.EventDeleted, s.events[1].Kind)
	s.Equal(repository.EventBatch, s.events[2].Kind)
	s.Equal([]string{"e2", "e3"}, s.events[2].IDs)
	s.Equal("memory", s.events[2].Backend)
}

func (s *RepositorySuite) TestBackendFailures() {
	boom := errors.New("connection reset")
	repo := repository.New("broken", failingStore{DocumentStore: s.store, err: boom}, codec.NewRegistry(),
		func(n note) noteID { return n.ID }, repository.WithMetrics(s.metrics))

	_, err := repo.Save(s.ctx, s.note("x", "a", "b"))
	s.ErrorIs(err, repository.ErrStorage)
	s.ErrorIs(err, boom)
	var se *repository.StorageError
	s.Require().ErrorAs(err, &se)
	s.Equal("save", se.Op)
	s.Equal("broken", se.Repository)

	_, err = repo.Query().Where("owner").Eq("a").Execute(s.ctx)
	s.ErrorIs(err, repository.ErrStorage)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.StorageErrors.WithLabelValues("broken", "memory", "save")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.StorageErrors.WithLabelValues("broken", "memory", "find")))
}

type ticket struct {
	ID   string        `doc:"id"`
	Wake chan struct{} `doc:"wake"`
}

func (s *RepositorySuite) TestEncodeFailuresAreStorageErrors() {
	repo := repository.New("tickets", s.store, codec.NewRegistry(), func(t ticket) string { return t.ID })
	bad := ticket{ID: "t1", Wake: make(chan struct{})}

	_, err := repo.Save(s.ctx, bad)
	s.ErrorIs(err, repository.ErrStorage)
	s.ErrorIs(err, codec.ErrUnsupported)
	var se *repository.StorageError
	s.Require().ErrorAs(err, &se)
	s.Equal("encode", se.Op)
	s.Equal("tickets", se.Repository)

	_, err = repo.SaveAll(s.ctx, []ticket{{ID: "t0"}, bad})
	s.ErrorIs(err, repository.ErrStorage)

	n, err := s.store.Count(s.ctx, query.All())
	s.Require().NoError(err)
	s.Zero(n, "nothing reaches the backend")
}

func (s *RepositorySuite) TestAsync() {
	pool := async.NewPool(2, 8)
	defer func() { s.Require().NoError(pool.Close(s.ctx)) }()
	repo := repository.New("async", memory.New(), codec.NewRegistry(), func(n note) noteID { return n.ID },
		repository.WithPool(pool))

	_, err := repo.SaveAsync(s.ctx, s.note("a1", "alex", "x")).Wait(s.ctx)
	s.Require().NoError(err)
	_, err = repo.SaveAllAsync(s.ctx, []note{s.note("a2", "alex", "y")}).Wait(s.ctx)
	s.Require().NoError(err)

	found, err := repo.FindByIDAsync(s.ctx, "a1").Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal("x", found.Body)

	all, err := repo.FindAllAsync(s.ctx).Wait(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 2)

	n, err := repo.CountAsync(s.ctx).Wait(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	deleted, err := repo.DeleteByIDAsync(s.ctx, "a2").Wait(s.ctx)
	s.Require().NoError(err)
	s.True(deleted)

	items, err := repo.Query().Where("owner").Eq("alex").ExecuteAsync(s.ctx).Wait(s.ctx)
	s.Require().NoError(err)
	s.Len(items, 1)
}

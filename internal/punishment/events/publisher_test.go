package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/mock/gomock"

	"warden/internal/platform/metrics"
	"warden/internal/punishment/events/mocks"
	"warden/internal/storage/codec"
	"warden/internal/storage/memory"
	"warden/internal/storage/repository"
)

type PublisherSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	producer  *mocks.MockProducer
	metrics   *metrics.Metrics
	publisher *Publisher
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.producer = mocks.NewMockProducer(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	var err error
	s.publisher, err = New(s.producer, "warden.events", WithMetrics(s.metrics), WithBuffer(2))
	s.Require().NoError(err)
}

func (s *PublisherSuite) TearDownTest() {
	s.ctrl.Finish()
}

func saved(id string) repository.Event {
	return repository.Event{
		Kind:       repository.EventSaved,
		Repository: "restrictions",
		Backend:    "memory",
		IDs:        []string{id},
		Document:   codec.Document{"id": id},
		At:         time.UnixMilli(1_700_000_000_000),
	}
}

// delivered acknowledges rs, failing the record keyed failOn when set.
func delivered(rs []*kgo.Record, failOn string) kgo.ProduceResults {
	out := make(kgo.ProduceResults, len(rs))
	for i, r := range rs {
		out[i] = kgo.ProduceResult{Record: r}
		if failOn != "" && string(r.Key) == failOn {
			out[i].Err = errors.New("broker unavailable")
		}
	}
	return out
}

func (s *PublisherSuite) TestNew() {
	s.Run("nil producer", func() {
		_, err := New(nil, "t")
		s.Error(err)
	})
	s.Run("empty topic", func() {
		_, err := New(s.producer, "")
		s.Error(err)
	})
}

func (s *PublisherSuite) TestFlushEncodesEvents() {
	s.publisher.OnStorageEvent(s.ctx, saved("a"))

	s.producer.EXPECT().ProduceSync(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
			s.Require().Len(rs, 1)
			s.Equal("warden.events", rs[0].Topic)
			s.Equal("a", string(rs[0].Key))

			var msg Message
			s.Require().NoError(json.Unmarshal(rs[0].Value, &msg))
			s.Equal(Message{
				Kind:       "saved",
				Repository: "restrictions",
				Backend:    "memory",
				IDs:        []string{"a"},
				Document:   map[string]any{"id": "a"},
				At:         1_700_000_000_000,
			}, msg)
			return delivered(rs, "")
		})

	s.Equal(1, s.publisher.Flush(s.ctx))
	s.Zero(s.publisher.Pending())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventsPublished))
}

func (s *PublisherSuite) TestFailedDeliveriesAreCounted() {
	s.publisher.OnStorageEvent(s.ctx, saved("a"))
	s.publisher.OnStorageEvent(s.ctx, saved("b"))

	s.producer.EXPECT().ProduceSync(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
			return delivered(rs, "b")
		})

	s.Equal(1, s.publisher.Flush(s.ctx))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventsPublished))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventsFailed))
}

func (s *PublisherSuite) TestFullBufferDropsOldest() {
	s.publisher.OnStorageEvent(s.ctx, saved("a"))
	s.publisher.OnStorageEvent(s.ctx, saved("b"))
	s.publisher.OnStorageEvent(s.ctx, saved("c"))

	s.Equal(2, s.publisher.Pending())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventsFailed))

	s.producer.EXPECT().ProduceSync(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
			s.Equal([]string{"b", "c"}, []string{string(rs[0].Key), string(rs[1].Key)})
			return delivered(rs, "")
		})
	s.Equal(2, s.publisher.Flush(s.ctx))
}

func (s *PublisherSuite) TestBatchEventsHaveNoKey() {
	s.publisher.OnStorageEvent(s.ctx, repository.Event{
		Kind:       repository.EventBatch,
		Repository: "restrictions",
		IDs:        []string{"a", "b"},
	})

	s.producer.EXPECT().ProduceSync(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
			s.Nil(rs[0].Key)
			return delivered(rs, "")
		})
	s.Equal(1, s.publisher.Flush(s.ctx))
}

func (s *PublisherSuite) TestEmptyFlushSkipsProducer() {
	s.Zero(s.publisher.Flush(s.ctx))
}

func (s *PublisherSuite) TestRepositoryWritesReachProducer() {
	type entry struct {
		ID string `doc:"id"`
	}
	repo := repository.New("restrictions", memory.New(), codec.NewRegistry(), func(e entry) string { return e.ID })
	repo.Subscribe(s.publisher)

	_, err := repo.Save(s.ctx, entry{ID: "x"})
	s.Require().NoError(err)
	s.Equal(1, s.publisher.Pending())

	s.producer.EXPECT().ProduceSync(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
			s.Equal("x", string(rs[0].Key))
			return delivered(rs, "")
		})

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		s.publisher.Run(ctx)
		close(done)
	}()
	s.Eventually(func() bool { return s.publisher.Pending() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func (s *PublisherSuite) TestClose() {
	gomock.InOrder(
		s.producer.EXPECT().Flush(gomock.Any()).Return(errors.New("timeout")),
		s.producer.EXPECT().Close(),
	)
	s.Error(s.publisher.Close(s.ctx))
}

package consumer_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/goleak"

	"github.com/okian/recon/internal/adapters/mq/consumer"
	"github.com/okian/recon/internal/domain/model"
	logging "github.com/okian/recon/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logging.InitWithWriter(io.Discard)
	goleak.VerifyTestMain(m)
}

type stubReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	fetchErrs []error
}

func (s *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	if len(s.fetchErrs) > 0 {
		err := s.fetchErrs[0]
		s.fetchErrs = s.fetchErrs[1:]
		s.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(s.messages) > 0 {
		msg := s.messages[0]
		s.messages = s.messages[1:]
		s.mu.Unlock()
		return msg, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (s *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *stubReader) Close() error { return nil }

func (s *stubReader) commits() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type submitted struct {
	id  string
	rec model.ActivityRecord
}

type stubHandler struct {
	mu       sync.Mutex
	got      []submitted
	failures int
	calls    int
}

func (h *stubHandler) Submit(_ context.Context, id string, rec model.ActivityRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.failures > 0 {
		h.failures--
		return errors.New("queue full")
	}
	h.got = append(h.got, submitted{id: id, rec: rec})
	return nil
}

func (h *stubHandler) accepted() []submitted {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]submitted(nil), h.got...)
}

const payload = `{"owner_id":5,"start":"2025-06-27T09:00:00Z","duration_hours":2,"description":"Ticket 123 fix bug"}`

func message(offset int64, value string, headers ...kafka.Header) kafka.Message {
	return kafka.Message{Topic: "activities", Partition: 0, Offset: offset, Value: []byte(value), Headers: headers}
}

// runUntil runs the processor until cond holds or a deadline passes.
func runUntil(p *consumer.Processor, cond func() bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	return <-done
}

func TestProcessor(t *testing.T) {
	Convey("Given a processor over a stub reader", t, func() {
		reader := &stubReader{}
		handler := &stubHandler{}

		Convey("Valid messages are submitted and committed", func() {
			reader.messages = []kafka.Message{
				message(1, payload),
				message(2, `{"submission_id":"abc","owner_id":6,"start":"2025-06-27T10:00:00Z","description":"standup","source":"calendar"}`),
			}
			p := consumer.NewProcessor(reader, handler)

			err := runUntil(p, func() bool { return len(reader.commits()) == 2 })
			So(errors.Is(err, context.Canceled), ShouldBeTrue)

			got := handler.accepted()
			So(got, ShouldHaveLength, 2)
			So(got[0].id, ShouldEqual, "kafka:activities/0/1")
			So(got[0].rec.Source, ShouldEqual, model.SourceRemoteSession)
			So(got[0].rec.OwnerID, ShouldEqual, model.OwnerID(5))
			So(got[1].id, ShouldEqual, "abc")
			So(got[1].rec.Source, ShouldEqual, model.SourceCalendar)
			So(reader.commits(), ShouldResemble, []int64{1, 2})
		})

		Convey("A source header overrides the default source", func() {
			reader.messages = []kafka.Message{
				message(1, payload, kafka.Header{Key: consumer.SourceHeader, Value: []byte("csv")}),
			}
			p := consumer.NewProcessor(reader, handler, consumer.WithDefaultSource(model.SourceManual))

			_ = runUntil(p, func() bool { return len(reader.commits()) == 1 })
			So(handler.accepted()[0].rec.Source, ShouldEqual, model.SourceCSV)
		})

		Convey("Malformed messages are committed without submission", func() {
			reader.messages = []kafka.Message{
				message(1, "not json"),
				message(2, `{"owner_id":0,"start":"2025-06-27T09:00:00Z"}`),
				message(3, payload),
			}
			p := consumer.NewProcessor(reader, handler)

			_ = runUntil(p, func() bool { return len(reader.commits()) == 3 })
			So(reader.commits(), ShouldResemble, []int64{1, 2, 3})
			So(handler.accepted(), ShouldHaveLength, 1)
		})

		Convey("A rejecting handler is retried before the offset is committed", func() {
			handler.failures = 2
			reader.messages = []kafka.Message{message(7, payload)}
			p := consumer.NewProcessor(reader, handler)

			_ = runUntil(p, func() bool { return len(reader.commits()) == 1 })
			So(handler.accepted(), ShouldHaveLength, 1)
			So(handler.calls, ShouldEqual, 3)
			So(reader.commits(), ShouldResemble, []int64{7})
		})

		Convey("Fetch errors back off and recover", func() {
			reader.fetchErrs = []error{errors.New("broker unavailable")}
			reader.messages = []kafka.Message{message(1, payload)}
			p := consumer.NewProcessor(reader, handler)

			_ = runUntil(p, func() bool { return len(reader.commits()) == 1 })
			So(handler.accepted(), ShouldHaveLength, 1)
		})

		Convey("Cancellation while retrying leaves the offset uncommitted", func() {
			handler.failures = 1 << 20
			reader.messages = []kafka.Message{message(1, payload)}
			p := consumer.NewProcessor(reader, handler)

			err := runUntil(p, func() bool {
				handler.mu.Lock()
				defer handler.mu.Unlock()
				return handler.calls >= 2
			})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(reader.commits(), ShouldBeEmpty)
		})
	})
}

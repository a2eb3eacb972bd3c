// Package consumer feeds activity submissions published on Kafka (remote
// session logs, calendar exports) into the ingestion service.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/logger"
	"github.com/okian/recon/pkg/metrics"
)

// SourceHeader optionally names the record source of a message.
const SourceHeader = "source"

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Reader exposes the subset of kafka.Reader the processor needs.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler accepts a decoded submission.
type Handler interface {
	Submit(ctx context.Context, submissionID string, rec model.ActivityRecord) error
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger overrides the processor logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDefaultSource sets the source used when neither the payload nor the
// message headers name one.
func WithDefaultSource(s model.Source) Option {
	return func(p *Processor) {
		if s.Valid() {
			p.source = s
		}
	}
}

// Processor pulls messages, decodes them and hands them to a Handler.
// Malformed messages are committed and dropped. A failing handler is retried
// with backoff so that offsets are only committed once a submission was
// accepted.
type Processor struct {
	reader  Reader
	handler Handler
	source  model.Source
	logger  logger.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		source:  model.SourceRemoteSession,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("kafka-consumer")
	}
	return p
}

// NewReader builds a consumer-group reader for topic.
func NewReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
}

// Run processes messages until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	fetchBackoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			metrics.RecordKafkaMessage("fetch_error")
			p.logger.Warn(ctx, "fetch failed", logger.Error(err))
			if !sleep(ctx, fetchBackoff) {
				return ctx.Err()
			}
			fetchBackoff = next(fetchBackoff)
			continue
		}
		fetchBackoff = initialBackoff

		id, rec, decodeErr := p.decode(msg)
		if decodeErr != nil {
			metrics.RecordKafkaMessage("malformed")
			p.logger.Warn(ctx, "dropping malformed message",
				logger.String("topic", msg.Topic),
				logger.Int("partition", msg.Partition),
				logger.Int64("offset", msg.Offset),
				logger.Error(decodeErr),
			)
			p.commit(ctx, msg)
			continue
		}

		if err := p.deliver(ctx, id, rec); err != nil {
			return err
		}
		if p.commit(ctx, msg) {
			metrics.RecordKafkaMessage("processed")
		}
	}
}

// deliver retries the handler until it accepts the submission or ctx ends.
func (p *Processor) deliver(ctx context.Context, id string, rec model.ActivityRecord) error {
	backoff := initialBackoff
	for {
		err := p.handler.Submit(ctx, id, rec)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		metrics.RecordKafkaMessage("handler_error")
		p.logger.Warn(ctx, "submission not accepted, retrying",
			logger.String("submission_id", id),
			logger.Duration("backoff", backoff),
			logger.Error(err),
		)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = next(backoff)
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		metrics.RecordKafkaMessage("commit_error")
		p.logger.Error(ctx, "commit failed", logger.Int64("offset", msg.Offset), logger.Error(err))
		return false
	}
	return true
}

// decode parses a JSON submission. Messages without a submission id are
// keyed by their position so a redelivery is recognised.
func (p *Processor) decode(msg kafka.Message) (string, model.ActivityRecord, error) {
	var sub model.Submission
	if err := json.Unmarshal(msg.Value, &sub); err != nil {
		return "", model.ActivityRecord{}, fmt.Errorf("decode payload: %w", err)
	}
	fallback := p.source
	if v, ok := headerValue(msg, SourceHeader); ok {
		fallback = model.Source(v)
	}
	rec, err := sub.Record(fallback)
	if err != nil {
		return "", model.ActivityRecord{}, err
	}
	id := sub.SubmissionID
	if id == "" {
		id = "kafka:" + msg.Topic + "/" + strconv.Itoa(msg.Partition) + "/" + strconv.FormatInt(msg.Offset, 10)
	}
	return id, rec, nil
}

func headerValue(msg kafka.Message, key string) (string, bool) {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func next(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/agentbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/agentbook/libs/otel"
)

// Source hands out batches of unpublished records. done(ctx, true) marks the batch published;
// done(ctx, false) releases it for a later attempt.
type Source interface {
	Claim(ctx context.Context, limit int) ([]Record, func(ctx context.Context, published bool) error, error)
}

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	source    Source
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(source Source, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		source:    source,
		logger:    logger,
		brokers:   brokers,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	p.Loop(ctx, writer)
}

// Loop polls the source until ctx is done, writing each batch with w.
func (p *Publisher) Loop(ctx context.Context, w Writer) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx, w); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishBatch sends one batch and reports how many records were published.
func (p *Publisher) PublishBatch(ctx context.Context, w Writer) (int, error) {
	records, done, err := p.source.Claim(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, done(ctx, false)
	}

	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, Message(ctx, r))
	}
	if err := w.WriteMessages(ctx, msgs...); err != nil {
		_ = done(ctx, false)
		return 0, err
	}
	if err := done(ctx, true); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Message maps a record onto its Kafka message. Messages are keyed by agent so one agent's
// events stay ordered within a partition.
func Message(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
	key := r.AgentID
	if key == "" {
		key = r.AggregateID
	}
	msg := kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(key),
		Value:   r.Payload,
		Headers: kafkax.EventHeaders(r.EventID, r.EventType, r.AgentID),
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}

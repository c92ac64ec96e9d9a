package feed

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/builder"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
)

// publishChunk bounds how many events go into one Kafka write.
const publishChunk = 500

// Publisher emits mutation events onto the feed topic.
type Publisher struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewPublisher wraps a Kafka producer for the mutation topic.
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   logger.WithComponent("feed-publisher"),
	}
}

// Publish validates and emits one event. maxContent zero disables the text
// size bound.
func (p *Publisher) Publish(ctx context.Context, event MutationEvent, maxContent int) error {
	if err := Validate(event, maxContent); err != nil {
		return err
	}
	return p.producer.Publish(ctx, kafka.Event{Key: event.Key(), Value: event})
}

// PublishCorpus streams a corpus onto the feed as insert events, in chunks.
// Invalid documents are skipped and counted, matching the builder's
// continue-past-failures policy.
func (p *Publisher) PublishCorpus(ctx context.Context, src builder.Source, maxContent int) (published, skipped int, err error) {
	batch := make([]kafka.Event, 0, publishChunk)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.producer.PublishBatch(ctx, batch); err != nil {
			return err
		}
		published += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		doc, ok, err := src.Next()
		if err != nil {
			return published, skipped, err
		}
		if !ok {
			break
		}
		event := MutationEvent{Op: OpInsert, DocID: doc.DocID, Text: doc.Text}
		if err := Validate(event, maxContent); err != nil {
			p.logger.Warn("skipping invalid document", "doc_id", doc.DocID, "error", err)
			skipped++
			continue
		}
		batch = append(batch, kafka.Event{Key: event.Key(), Value: event})
		if len(batch) >= publishChunk {
			if err := flush(); err != nil {
				return published, skipped, err
			}
		}
	}
	if err := flush(); err != nil {
		return published, skipped, err
	}
	p.logger.Info("corpus published", "published", published, "skipped", skipped)
	return published, skipped, nil
}

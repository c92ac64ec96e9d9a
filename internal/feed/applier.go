package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/resilience"
)

// Applier turns feed events into mutation engine calls.
type Applier struct {
	engine     *mutation.Engine
	maxContent int
	logger     *slog.Logger
}

// NewApplier creates an Applier over the given engine.
func NewApplier(engine *mutation.Engine, maxContent int) *Applier {
	return &Applier{
		engine:     engine,
		maxContent: maxContent,
		logger:     slog.Default().With("component", "feed-applier"),
	}
}

// Handler returns the Kafka MessageHandler for the mutation topic. The feed
// is at-least-once: transient storage failures are retried with backoff and
// then redelivered via an uncommitted offset, while semantic failures
// (unknown document, duplicate, malformed event) are logged and committed —
// redelivery can never fix those.
func (a *Applier) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[MutationEvent](value)
		if err != nil {
			a.logger.Error("dropping undecodable event", "key", string(key), "error", err)
			return nil
		}
		if err := Validate(event, a.maxContent); err != nil {
			a.logger.Error("dropping invalid event", "op", event.Op, "doc_id", event.DocID, "error", err)
			return nil
		}

		err = resilience.Retry(ctx, "apply-"+event.Op, resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			RetryIf: func(err error) bool {
				return errors.Is(err, apperrors.ErrStorageTransaction)
			},
		}, func() error {
			return a.apply(ctx, event)
		})
		if err == nil {
			return nil
		}
		if apperrors.IsDomain(err) {
			a.logger.Warn("skipping unapplicable event",
				"op", event.Op,
				"doc_id", event.DocID,
				"error", err,
			)
			return nil
		}
		return err
	}
}

func (a *Applier) apply(ctx context.Context, event MutationEvent) error {
	switch event.Op {
	case OpInsert:
		if event.DocID > 0 {
			return a.engine.InsertWithID(ctx, event.DocID, event.Text)
		}
		docID, err := a.engine.Insert(ctx, event.Text)
		if err != nil {
			return err
		}
		a.logger.Debug("inserted from feed", "doc_id", docID)
		return nil
	case OpDelete:
		return a.engine.Delete(ctx, event.DocID)
	case OpModify:
		return a.engine.Modify(ctx, event.DocID, event.Text)
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, "unsupported operation %q", event.Op)
	}
}

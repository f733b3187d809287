// Package outbox publishes notifications queued in the database together
// with job results.
package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/metrics"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

type Store interface {
	GetPendingOutboxMessages(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkOutboxMessageAsProcessed(ctx context.Context, id string) error
}

type Publisher interface {
	PublishNotification(key string, payload []byte) error
}

type Notifier interface {
	Notify(payload []byte) (bool, error)
}

type Dispatcher struct {
	store     Store
	publisher Publisher
	notifier  Notifier
	interval  time.Duration
	batchSize int
}

// NewDispatcher returns a dispatcher. notifier may be nil when email
// delivery is disabled.
func NewDispatcher(store Store, publisher Publisher, notifier Notifier, interval time.Duration, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce handles one batch of pending messages and returns how many
// were marked processed. A message whose publish fails stays pending. A
// failed email is logged; the published notification already carries it.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	messages, err := d.store.GetPendingOutboxMessages(ctx, d.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("Outbox: error fetching messages")
		return 0
	}

	done := 0
	for _, msg := range messages {
		if err := d.publisher.PublishNotification(msg.JobID, msg.Payload); err != nil {
			log.Error().Err(err).Str("outbox_id", msg.ID).Str("job", msg.JobID).Msg("Outbox: failed to publish notification")
			continue
		}

		if d.notifier != nil {
			if _, err := d.notifier.Notify(msg.Payload); err != nil {
				metrics.AlertDeliveryErrors.WithLabelValues(msg.CameraID).Inc()
				log.Error().Err(err).Str("outbox_id", msg.ID).Str("job", msg.JobID).Msg("Outbox: failed to send email")
			}
		}

		if err := d.store.MarkOutboxMessageAsProcessed(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("outbox_id", msg.ID).Msg("Outbox: failed to mark message as processed")
			continue
		}
		done++
	}
	return done
}

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"FeeRouter/internal/event"
	"FeeRouter/internal/observability"
)

// ArchiveRow represents a row in fee_router.event_archive.
type ArchiveRow struct {
	EventType string
	Vault     string
	Payload   []byte
	Timestamp int64
}

// EventArchiver drains a channel of domain events and batch-writes them to
// Postgres as an audit trail. It runs off the crank's commit path: the
// transfers and progress are durable before anything lands here, so a slow
// archive cannot stall a distribution. Sends into the channel are blocking,
// which bounds memory by stalling the publisher instead of dropping rows.
type EventArchiver struct {
	db           *sql.DB
	inputChan    <-chan event.Event
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewEventArchiver(
	db *sql.DB,
	inputChan <-chan event.Event,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *EventArchiver {
	return &EventArchiver{
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run starts the archiver loop. It batches incoming events and flushes
// either when the batch is full or the flush timeout expires. Blocks until
// ctx is cancelled or the input channel closes.
func (a *EventArchiver) Run(ctx context.Context) error {
	batch := make([]ArchiveRow, 0, a.batchSize)

	timer := time.NewTimer(a.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := a.flush(context.Background(), batch); err != nil {
					a.log.Error().Err(err).Msg("final archive flush failed")
				}
			}
			return ctx.Err()

		case evt, ok := <-a.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := a.flush(context.Background(), batch); err != nil {
						a.log.Error().Err(err).Msg("final archive flush failed")
					}
				}
				return nil
			}

			row, err := archiveRow(evt)
			if err != nil {
				a.log.Error().Err(err).Str("event_type", evt.EventType().String()).
					Msg("event not archivable, skipping")
				continue
			}
			batch = append(batch, row)

			if len(batch) >= a.batchSize {
				if err := a.flushWithRetry(ctx, batch); err != nil {
					a.log.Error().Err(err).Msg("archive batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(a.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := a.flushWithRetry(ctx, batch); err != nil {
					a.log.Error().Err(err).Msg("archive timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(a.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled. On cancellation one last flush runs with a
// background context so the batch is not lost to shutdown.
func (a *EventArchiver) flushWithRetry(ctx context.Context, batch []ArchiveRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			a.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("events", len(batch)).Msg("archive flush retry")
			select {
			case <-ctx.Done():
				if err := a.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := a.flush(ctx, batch); err == nil {
			return nil
		}

		if a.metrics != nil {
			a.metrics.PersistRetry.Inc()
		}
	}
}

func (a *EventArchiver) flush(ctx context.Context, batch []ArchiveRow) error {
	start := time.Now()

	query := `INSERT INTO fee_router.event_archive (event_type, vault, payload, ts) VALUES `
	values := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*4)
	for i, row := range batch {
		base := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, row.EventType, row.Vault, row.Payload, row.Timestamp)
	}
	query += strings.Join(values, ", ")

	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		if a.metrics != nil {
			a.metrics.PersistErrors.WithLabelValues("archive_write").Inc()
		}
		return err
	}

	if a.metrics != nil {
		a.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		a.metrics.PersistBatchSize.Observe(float64(len(batch)))
	}
	return nil
}

func archiveRow(evt event.Event) (ArchiveRow, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return ArchiveRow{}, fmt.Errorf("marshal event: %w", err)
	}
	return ArchiveRow{
		EventType: evt.EventType().String(),
		Vault:     evt.EventVault().String(),
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}, nil
}

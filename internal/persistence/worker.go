package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"mintd/internal/engine"
	"mintd/internal/observability"
)

// Worker drains the engine's persist channel and batch-writes the
// settlement journal to Postgres. The engine uses BLOCKING sends, so
// if this worker falls behind, settlement stalls — guaranteeing no
// record is lost.
type Worker struct {
	writer       *JournalWriter
	db           *sql.DB
	inputChan    <-chan engine.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan engine.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewJournalWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the worker loop. It batches incoming outputs and flushes
// either when the batch is full or the flush timeout expires. Blocks
// until ctx is cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	recordBatch := make([]RecordRow, 0, w.batchSize)
	requestBatch := make([]RequestRow, 0, w.batchSize*2)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: outputs still buffered in the channel
			// are part of committed operations and must reach the
			// journal too, not just the in-hand batch.
			recordBatch, requestBatch = w.drainBuffered(recordBatch, requestBatch)
			if len(recordBatch) > 0 || len(requestBatch) > 0 {
				if err := w.flush(context.Background(), recordBatch, requestBatch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				// Channel closed — flush and exit
				if len(recordBatch) > 0 || len(requestBatch) > 0 {
					if err := w.flush(context.Background(), recordBatch, requestBatch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			recordBatch, requestBatch = appendOutput(recordBatch, requestBatch, output)

			if len(recordBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, recordBatch, requestBatch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				recordBatch = recordBatch[:0]
				requestBatch = requestBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(recordBatch) > 0 || len(requestBatch) > 0 {
				if err := w.flushWithRetry(ctx, recordBatch, requestBatch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				recordBatch = recordBatch[:0]
				requestBatch = requestBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// appendOutput converts one engine output into journal rows.
func appendOutput(records []RecordRow, requests []RequestRow, out engine.Output) ([]RecordRow, []RequestRow) {
	if out.Record != nil {
		records = append(records, RecordRow{
			RecordID:    uuid.NewString(),
			Action:      out.Record.Action.String(),
			Participant: out.Record.Participant.String(),
			Amount:      out.Record.Amount.String(),
			Encoded:     out.Encoded,
			CreatedAt:   out.At,
		})
	}
	for _, tr := range out.Transitions {
		requests = append(requests, RequestRow{
			RequestID:   tr.ID.String(),
			Beneficiary: tr.Beneficiary.String(),
			Amount:      tr.Amount.String(),
			State:       tr.State,
			CreatedAt:   out.At,
		})
	}
	return records, requests
}

// drainBuffered empties outputs already sitting in the channel without
// blocking on new sends.
func (w *Worker) drainBuffered(records []RecordRow, requests []RequestRow) ([]RecordRow, []RequestRow) {
	for {
		select {
		case output, ok := <-w.inputChan:
			if !ok {
				return records, requests
			}
			records, requests = appendOutput(records, requests, output)
		default:
			return records, requests
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The
// worker never drops journal rows — it retries until the write
// succeeds or the context is cancelled, in which case it makes one
// final attempt with a background context before giving up.
func (w *Worker) flushWithRetry(ctx context.Context, records []RecordRow, requests []RequestRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, records=%d)",
				attempt, backoff, len(records))
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				finalErr := w.flush(context.Background(), records, requests)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, records, requests)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}
	}
}

func (w *Worker) flush(ctx context.Context, records []RecordRow, requests []RequestRow) error {
	start := time.Now()

	// Records and transitions of one operation commit together.
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteRecordBatch(ctx, tx, records); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_records").Inc()
		}
		return err
	}

	if err := w.writer.WriteRequestBatch(ctx, tx, requests); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_requests").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(records)))
		w.metrics.PersistRecordsWritten.Add(float64(len(records)))
	}

	return nil
}

package persistence

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"mintd/internal/bridge"
	"mintd/internal/engine"
	"mintd/internal/ledger"
	"mintd/internal/testutil"
)

// ============================================================
// Integration: journal writes
// ============================================================

func TestWorkerWritesJournal(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	inputCh := make(chan engine.Output, 16)
	worker := NewWorker(db, inputCh, 10, 50*time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	participant := ledger.SystemAccountID("it/participant")
	rec := &bridge.SettlementRecord{
		Action:      bridge.ActionBuy,
		Participant: participant,
		Amount:      big.NewInt(12345),
	}
	encoded, err := rec.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	reqID := uuid.New()
	inputCh <- engine.Output{
		Record:  rec,
		Encoded: encoded,
		Transitions: []engine.QueueTransition{
			{ID: reqID, Beneficiary: participant, Amount: big.NewInt(500), State: engine.StateQueued},
		},
		At: time.Now(),
	}
	close(inputCh)
	if err := <-done; err != nil {
		t.Fatalf("worker: %v", err)
	}

	var count int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM mintd.settlement_records WHERE action = 'BUY' AND amount = 12345`,
	).Scan(&count); err != nil {
		t.Fatalf("query records: %v", err)
	}
	if count != 1 {
		t.Fatalf("settlement records = %d, want 1", count)
	}

	var state string
	if err := db.QueryRow(
		`SELECT state FROM mintd.queue_requests WHERE request_id = $1`, reqID.String(),
	).Scan(&state); err != nil {
		t.Fatalf("query requests: %v", err)
	}
	if state != engine.StateQueued {
		t.Fatalf("state = %q, want queued", state)
	}
}

// ============================================================
// Row conversion
// ============================================================

func TestDrainBufferedOnShutdown(t *testing.T) {
	participant := ledger.SystemAccountID("unit/participant")
	rec := &bridge.SettlementRecord{
		Action:      bridge.ActionBuy,
		Participant: participant,
		Amount:      big.NewInt(5),
	}
	encoded, err := rec.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ch := make(chan engine.Output, 8)
	for i := 0; i < 3; i++ {
		ch <- engine.Output{Record: rec, Encoded: encoded, At: time.Unix(1_700_000_000, 0)}
	}
	w := NewWorker(nil, ch, 50, time.Second, nil)

	// A cancellation must pick up outputs still buffered in the
	// channel, not only the in-hand batch.
	records, requests := w.drainBuffered(nil, nil)
	if len(records) != 3 {
		t.Fatalf("drained records = %d, want 3", len(records))
	}
	if len(requests) != 0 {
		t.Fatalf("drained requests = %d, want 0", len(requests))
	}

	// Drain also follows a closed channel to the end.
	ch <- engine.Output{Record: rec, Encoded: encoded, At: time.Unix(1_700_000_000, 0)}
	close(ch)
	records, _ = w.drainBuffered(nil, nil)
	if len(records) != 1 {
		t.Fatalf("drained after close = %d, want 1", len(records))
	}
}

func TestAppendOutput(t *testing.T) {
	participant := ledger.SystemAccountID("unit/participant")
	rec := &bridge.SettlementRecord{
		Action:      bridge.ActionRedeem,
		Participant: participant,
		Amount:      big.NewInt(77),
	}
	encoded, err := rec.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	id := uuid.New()

	records, requests := appendOutput(nil, nil, engine.Output{
		Record:  rec,
		Encoded: encoded,
		Transitions: []engine.QueueTransition{
			{ID: id, Beneficiary: participant, Amount: big.NewInt(77), State: engine.StatePaid},
		},
		At: time.Unix(1_700_000_000, 0),
	})

	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Action != "REDEEM" || records[0].Amount != "77" {
		t.Fatalf("record row = %+v", records[0])
	}
	if len(records[0].Encoded) != bridge.RecordSize {
		t.Fatalf("encoded size = %d, want %d", len(records[0].Encoded), bridge.RecordSize)
	}
	if len(requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(requests))
	}
	if requests[0].RequestID != id.String() || requests[0].State != "paid" {
		t.Fatalf("request row = %+v", requests[0])
	}
}

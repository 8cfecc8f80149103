package queue

import (
	"math/big"

	"github.com/google/uuid"

	"mintd/internal/ledger"
	fpmath "mintd/internal/math"
)

// Request is a pending payout obligation: the beneficiary is owed
// amount of the reserve asset. Immutable once created; it leaves the
// queue only by being paid.
type Request struct {
	ID          uuid.UUID
	Beneficiary ledger.AccountID
	Amount      *big.Int
}

// NewRequest creates a request with a fresh identifier.
func NewRequest(beneficiary ledger.AccountID, amount *big.Int) Request {
	return Request{
		ID:          uuid.New(),
		Beneficiary: beneficiary,
		Amount:      fpmath.Clone(amount),
	}
}

// Queue is the FIFO store of pending payout obligations. Strict
// insertion order is load-bearing: an oversized request at the head
// blocks every request behind it until enough liquidity accumulates,
// even when later requests would individually fit. Not safe for
// concurrent use; the settlement engine serializes access.
type Queue struct {
	store Store
}

// New wraps the given backing store.
func New(store Store) *Queue {
	return &Queue{store: store}
}

// NewIndexed returns a queue on the default head/tail-indexed store.
func NewIndexed() *Queue {
	return New(NewIndexedStore())
}

// Len returns the count of unpaid queued requests.
func (q *Queue) Len() int {
	return q.store.Len()
}

// Peek returns the head request, if any.
func (q *Queue) Peek() (Request, bool) {
	return q.store.Peek()
}

// Result is the outcome of one Process pass.
type Result struct {
	// Payouts lists the requests to pay, in FIFO order: dequeued
	// entries first, then the incoming request if admitted. The caller
	// must execute the transfers as part of the same logical operation.
	Payouts []Request
	// Admitted reports that the incoming request was paid immediately.
	Admitted bool
	// Enqueued reports that the incoming request was appended to the
	// tail.
	Enqueued bool
	// Remaining is available minus the sum of payout amounts.
	Remaining *big.Int
}

// Process drains payable requests from the head against available
// liquidity and decides admission for an optional incoming request.
//
// The walk stops at the first queued request that does not fit in the
// remaining liquidity — never skipping ahead to smaller later entries —
// or once maxBatch requests were taken. The incoming request is paid
// immediately only when the batch limit was not exhausted by the walk
// and its amount fits in what remains; otherwise it is appended to the
// tail, never inserted out of order. At most maxBatch queued requests
// plus the one incoming request are paid per call; callers drain deep
// queues with repeated calls.
func (q *Queue) Process(incoming *Request, available *big.Int, maxBatch int) Result {
	res := Result{
		Remaining: fpmath.Clone(available),
	}

	for len(res.Payouts) < maxBatch {
		head, ok := q.store.Peek()
		if !ok {
			break
		}
		if head.Amount.Cmp(res.Remaining) > 0 {
			// Head-of-line blocking: the first unpayable request stops
			// the pass.
			break
		}
		res.Remaining.Sub(res.Remaining, head.Amount)
		res.Payouts = append(res.Payouts, head)
		q.store.Drop()
	}

	if incoming != nil && !incoming.Beneficiary.IsZero() && fpmath.IsPositive(incoming.Amount) {
		if len(res.Payouts) < maxBatch && incoming.Amount.Cmp(res.Remaining) <= 0 {
			res.Remaining.Sub(res.Remaining, incoming.Amount)
			res.Payouts = append(res.Payouts, *incoming)
			res.Admitted = true
		} else {
			q.store.Append(*incoming)
			res.Enqueued = true
		}
	}

	return res
}

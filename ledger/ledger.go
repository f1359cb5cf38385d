// Package ledger holds the authoritative record of every escrowed payment
// and enforces the transition rules of the payment lifecycle. It plays the
// role a smart contract plays on-chain: all mutations go through the
// operations defined here, each one is atomic, and the emitted event log is
// the only legitimate trigger for downstream state propagation.
package ledger

import (
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusAccepted  Status = "accepted"
	StatusSubmitted Status = "submitted"
	StatusReleased  Status = "released"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

type EventKind string

const (
	EventPaymentCreated  EventKind = "payment_created"
	EventPaymentAccepted EventKind = "payment_accepted"
	EventProofSubmitted  EventKind = "proof_submitted"
	EventVerified        EventKind = "verified"
	EventReleased        EventKind = "released"
	EventRefunded        EventKind = "refunded"
)

// Event is one fact in the ledger's replayable, order-preserving transition
// log. Seq is assigned by the ledger and strictly increases.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	PaymentID uint64    `json:"payment_id"`
	Caller    string    `json:"caller"`
	Approved  bool      `json:"approved,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	To        string    `json:"to,omitempty"`
	At        time.Time `json:"at"`
}

// Record is a point-in-time snapshot of a payment's authoritative state.
type Record struct {
	ID              uint64    `json:"id"`
	Principal       string    `json:"principal"`
	Worker          string    `json:"worker,omitempty"`
	Verifier        string    `json:"verifier"`
	Amount          int64     `json:"amount"`
	ConditionDigest string    `json:"condition_digest"`
	ProofDigest     string    `json:"proof_digest,omitempty"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	Deadline        time.Time `json:"deadline"`
}

// payment carries its own lock so operations on distinct ids never contend.
type payment struct {
	mu  sync.Mutex
	rec Record
}

// Ledger is the single source of truth for payment state. The id counter and
// the payment map are guarded by mu; each payment serializes its own
// transitions so the precondition check and the mutation form one atomic
// unit per record.
type Ledger struct {
	mu       sync.Mutex
	treasury Treasury
	now      func() time.Time
	nextID   uint64
	payments map[uint64]*payment
	events   []Event
}

func New(treasury Treasury) *Ledger {
	return &Ledger{
		treasury: treasury,
		now:      time.Now,
		payments: make(map[uint64]*payment),
	}
}

// SetClock overrides the ledger's time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Ledger) clock() func() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// CreatePayment escrows amount from the principal and opens a new record in
// status Created. The id counter advances only on success, so a rejected
// create leaves no trace.
func (l *Ledger) CreatePayment(principal, verifier, conditionDigest string, deadline time.Time, amount int64) (Record, error) {
	now := l.clock()()
	if amount <= 0 {
		return Record{}, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidInput, amount)
	}
	if principal == "" {
		return Record{}, fmt.Errorf("%w: principal address required", ErrInvalidInput)
	}
	if verifier == "" {
		return Record{}, fmt.Errorf("%w: verifier address required", ErrInvalidInput)
	}
	if conditionDigest == "" {
		return Record{}, fmt.Errorf("%w: condition digest required", ErrInvalidInput)
	}
	if !deadline.After(now) {
		return Record{}, fmt.Errorf("%w: deadline %s is not in the future", ErrInvalidInput, deadline.Format(time.RFC3339))
	}

	if err := l.treasury.Escrow(principal, amount); err != nil {
		return Record{}, fmt.Errorf("%w: escrow: %v", ErrTransferFailure, err)
	}

	l.mu.Lock()
	l.nextID++
	rec := Record{
		ID:              l.nextID,
		Principal:       principal,
		Verifier:        verifier,
		Amount:          amount,
		ConditionDigest: conditionDigest,
		Status:          StatusCreated,
		CreatedAt:       now,
		Deadline:        deadline,
	}
	l.payments[rec.ID] = &payment{rec: rec}
	l.appendEventLocked(Event{
		Kind:      EventPaymentCreated,
		PaymentID: rec.ID,
		Caller:    principal,
		Amount:    amount,
		Digest:    conditionDigest,
		At:        now,
	})
	l.mu.Unlock()

	return rec, nil
}

// AcceptPayment binds the caller as the payment's worker.
func (l *Ledger) AcceptPayment(id uint64, caller string) (Record, error) {
	p, err := l.lookup(id)
	if err != nil {
		return Record{}, err
	}
	now := l.clock()()

	p.mu.Lock()
	defer p.mu.Unlock()
	if caller == "" || caller == p.rec.Principal {
		return Record{}, fmt.Errorf("%w: principal cannot accept its own payment", ErrNotAuthorized)
	}
	if p.rec.Status != StatusCreated {
		return Record{}, fmt.Errorf("%w: cannot accept payment %d in status %s", ErrInvalidState, id, p.rec.Status)
	}
	if !p.rec.Deadline.After(now) {
		return Record{}, fmt.Errorf("%w: payment %d expired at %s", ErrDeadlineExpired, id, p.rec.Deadline.Format(time.RFC3339))
	}

	p.rec.Worker = caller
	p.rec.Status = StatusAccepted
	l.appendEvent(Event{Kind: EventPaymentAccepted, PaymentID: id, Caller: caller, At: now})
	return p.rec, nil
}

// SubmitProof records the worker's proof digest and moves the payment to
// Submitted. Resubmission after a rejection replaces the previous digest.
func (l *Ledger) SubmitProof(id uint64, caller, proofDigest string) (Record, error) {
	p, err := l.lookup(id)
	if err != nil {
		return Record{}, err
	}
	now := l.clock()()

	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.rec.Worker || caller == "" {
		return Record{}, fmt.Errorf("%w: only the worker may submit proof for payment %d", ErrNotAuthorized, id)
	}
	if p.rec.Status != StatusAccepted {
		return Record{}, fmt.Errorf("%w: cannot submit proof for payment %d in status %s", ErrInvalidState, id, p.rec.Status)
	}
	if !p.rec.Deadline.After(now) {
		return Record{}, fmt.Errorf("%w: payment %d expired at %s", ErrDeadlineExpired, id, p.rec.Deadline.Format(time.RFC3339))
	}
	if proofDigest == "" {
		return Record{}, fmt.Errorf("%w: proof digest required", ErrInvalidInput)
	}

	p.rec.ProofDigest = proofDigest
	p.rec.Status = StatusSubmitted
	l.appendEvent(Event{Kind: EventProofSubmitted, PaymentID: id, Caller: caller, Digest: proofDigest, At: now})
	return p.rec, nil
}

// Verify records the verifier's decision. Approval releases the escrowed
// amount to the worker and terminates the payment; rejection returns it to
// Accepted so the worker can refine and resubmit without re-escrowing.
func (l *Ledger) Verify(id uint64, caller string, approved bool) (Record, error) {
	p, err := l.lookup(id)
	if err != nil {
		return Record{}, err
	}
	now := l.clock()()

	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.rec.Verifier || caller == "" {
		return Record{}, fmt.Errorf("%w: only the verifier may verify payment %d", ErrNotAuthorized, id)
	}
	if p.rec.Status != StatusSubmitted {
		return Record{}, fmt.Errorf("%w: cannot verify payment %d in status %s", ErrInvalidState, id, p.rec.Status)
	}

	if !approved {
		p.rec.Status = StatusAccepted
		l.appendEvent(Event{Kind: EventVerified, PaymentID: id, Caller: caller, Approved: false, At: now})
		return p.rec, nil
	}

	// Transfer first: if the payout fails the status must not move, so
	// funds and state can never disagree.
	if err := l.treasury.Payout(p.rec.Worker, p.rec.Amount); err != nil {
		return Record{}, fmt.Errorf("%w: payout to %s: %v", ErrTransferFailure, p.rec.Worker, err)
	}
	p.rec.Status = StatusReleased
	l.appendEvent(Event{Kind: EventVerified, PaymentID: id, Caller: caller, Approved: true, At: now})
	l.appendEvent(Event{Kind: EventReleased, PaymentID: id, Caller: caller, Amount: p.rec.Amount, To: p.rec.Worker, At: now})
	return p.rec, nil
}

// RefundOnTimeout returns escrowed funds to the principal once the deadline
// has passed. Callable by anyone so a stalled payment can always be
// recovered no matter which party disappears.
func (l *Ledger) RefundOnTimeout(id uint64, caller string) (Record, error) {
	p, err := l.lookup(id)
	if err != nil {
		return Record{}, err
	}
	now := l.clock()()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec.Status.Terminal() {
		return Record{}, fmt.Errorf("%w: payment %d already %s", ErrInvalidState, id, p.rec.Status)
	}
	if p.rec.Deadline.After(now) {
		return Record{}, fmt.Errorf("%w: payment %d deadline is %s", ErrDeadlineNotExpired, id, p.rec.Deadline.Format(time.RFC3339))
	}

	if err := l.treasury.Refund(p.rec.Principal, p.rec.Amount); err != nil {
		return Record{}, fmt.Errorf("%w: refund to %s: %v", ErrTransferFailure, p.rec.Principal, err)
	}
	p.rec.Status = StatusRefunded
	l.appendEvent(Event{Kind: EventRefunded, PaymentID: id, Caller: caller, Amount: p.rec.Amount, To: p.rec.Principal, At: now})
	return p.rec, nil
}

// CancelPayment lets the principal withdraw an offer nobody has accepted.
func (l *Ledger) CancelPayment(id uint64, caller string) (Record, error) {
	p, err := l.lookup(id)
	if err != nil {
		return Record{}, err
	}
	now := l.clock()()

	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.rec.Principal {
		return Record{}, fmt.Errorf("%w: only the principal may cancel payment %d", ErrNotAuthorized, id)
	}
	if p.rec.Status != StatusCreated {
		return Record{}, fmt.Errorf("%w: cannot cancel payment %d in status %s", ErrInvalidState, id, p.rec.Status)
	}

	if err := l.treasury.Refund(p.rec.Principal, p.rec.Amount); err != nil {
		return Record{}, fmt.Errorf("%w: refund to %s: %v", ErrTransferFailure, p.rec.Principal, err)
	}
	p.rec.Status = StatusRefunded
	l.appendEvent(Event{Kind: EventRefunded, PaymentID: id, Caller: caller, Amount: p.rec.Amount, To: p.rec.Principal, At: now})
	return p.rec, nil
}

// Get returns a snapshot of the payment. The ledger exposes no listing
// queries; filtered views are the mirror's job.
func (l *Ledger) Get(id uint64) (Record, error) {
	p, err := l.lookup(id)
	if err != nil {
		return Record{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rec, nil
}

// EventsSince returns all events with Seq greater than seq, in order. This
// is the replayable feed the reconciler cursors over.
func (l *Ledger) EventsSince(seq uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Seq values are 1-based and dense, so the slice offset is direct.
	if seq >= uint64(len(l.events)) {
		return nil
	}
	out := make([]Event, len(l.events)-int(seq))
	copy(out, l.events[seq:])
	return out
}

func (l *Ledger) lookup(id uint64) (*payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return p, nil
}

func (l *Ledger) appendEvent(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendEventLocked(ev)
}

func (l *Ledger) appendEventLocked(ev Event) {
	ev.Seq = uint64(len(l.events)) + 1
	l.events = append(l.events, ev)
}

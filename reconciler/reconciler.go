// Package reconciler propagates ledger transition events into the mirror.
// It exists for transitions the serving path did not cause itself (the
// verifier acting directly against the ledger) and to repair mirror writes
// that failed after a successful ledger call. Delivery is at-least-once;
// the dedup set plus per-event frontier re-checks make the effect
// at-most-once.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourusername/proofpay/ledger"
)

const defaultMaxSeen = 4096

// Source is the ledger surface the reconciler reads. *ledger.Ledger
// satisfies it.
type Source interface {
	EventsSince(seq uint64) []ledger.Event
	Get(id uint64) (ledger.Record, error)
}

// Projection is the mirror surface the reconciler writes.
// *mirror.Store satisfies it.
type Projection interface {
	UpsertPayment(rec ledger.Record, condition string) error
	MarkAccepted(paymentID uint64, worker string, at time.Time) error
	MarkSubmitted(paymentID uint64, at time.Time) error
	RevertToAccepted(paymentID uint64, at time.Time) error
	MarkReleased(paymentID uint64, at time.Time) error
	MarkRefunded(paymentID uint64, at time.Time) error
}

type Reconciler struct {
	source   Source
	mirror   Projection
	interval time.Duration

	cursor    uint64
	seen      map[string]struct{}
	seenOrder []string
	maxSeen   int
}

func New(source Source, mirror Projection, interval time.Duration) *Reconciler {
	return &Reconciler{
		source:   source,
		mirror:   mirror,
		interval: interval,
		seen:     make(map[string]struct{}),
		maxSeen:  defaultMaxSeen,
	}
}

// Run polls until the context is cancelled. Errors inside a cycle are logged
// per event, never fatal; the next cycle retries whatever is still pending.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce processes the events past the cursor and returns how many mirror
// patches it applied. The cursor advances only over the contiguous prefix of
// handled events, so an event that failed to apply is re-observed next cycle.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	events := r.source.EventsSince(r.cursor)
	applied := 0
	blocked := false
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		key := dedupKey(ev)
		if _, done := r.seen[key]; done {
			if !blocked {
				r.cursor = ev.Seq
			}
			continue
		}
		if err := r.apply(ev); err != nil {
			slog.Error("reconcile event failed",
				"seq", ev.Seq,
				"kind", ev.Kind,
				"payment_id", ev.PaymentID,
				"error", err,
			)
			blocked = true
			continue
		}
		r.remember(key)
		applied++
		if !blocked {
			r.cursor = ev.Seq
		}
	}
	return applied
}

// apply re-reads the authoritative record and patches the mirror only when
// the event is still the record's current frontier. Stale events (a
// ProofSubmitted whose digest was since replaced, a rejecting Verified for a
// payment that has been resubmitted) are skipped, not errors.
func (r *Reconciler) apply(ev ledger.Event) error {
	rec, err := r.source.Get(ev.PaymentID)
	if err != nil {
		return fmt.Errorf("fetch payment %d: %w", ev.PaymentID, err)
	}

	switch ev.Kind {
	case ledger.EventPaymentCreated:
		// Condition text is serving-path data the ledger does not carry;
		// a repair insert leaves it empty until the owner rewrites it.
		return r.mirror.UpsertPayment(rec, "")

	case ledger.EventPaymentAccepted:
		if rec.Worker != ev.Caller {
			return nil
		}
		return r.mirror.MarkAccepted(ev.PaymentID, ev.Caller, ev.At)

	case ledger.EventProofSubmitted:
		if rec.Status != ledger.StatusSubmitted || rec.ProofDigest != ev.Digest {
			return nil
		}
		return r.mirror.MarkSubmitted(ev.PaymentID, ev.At)

	case ledger.EventVerified:
		// Only the payment's verifier may move it through verification.
		if ev.Caller != rec.Verifier {
			slog.Warn("ignoring verified event from non-verifier",
				"seq", ev.Seq, "payment_id", ev.PaymentID, "caller", ev.Caller)
			return nil
		}
		if ev.Approved {
			if rec.Status != ledger.StatusReleased {
				return nil
			}
			return r.mirror.MarkReleased(ev.PaymentID, ev.At)
		}
		if rec.Status != ledger.StatusAccepted {
			return nil
		}
		return r.mirror.RevertToAccepted(ev.PaymentID, ev.At)

	case ledger.EventReleased:
		if rec.Status != ledger.StatusReleased {
			return nil
		}
		return r.mirror.MarkReleased(ev.PaymentID, ev.At)

	case ledger.EventRefunded:
		if rec.Status != ledger.StatusRefunded {
			return nil
		}
		return r.mirror.MarkRefunded(ev.PaymentID, ev.At)
	}
	return nil
}

// dedupKey identifies one event. Payment id plus kind alone is ambiguous
// for payments that cycle through rejection, so the sequence number is
// included; it is stable across re-observations of the same event.
func dedupKey(ev ledger.Event) string {
	return fmt.Sprintf("%d:%s:%d", ev.PaymentID, ev.Kind, ev.Seq)
}

// remember adds a key to the bounded dedup set. Eviction is safe: the
// ledger's own state stays authoritative, the set only avoids redundant
// mirror writes.
func (r *Reconciler) remember(key string) {
	r.seen[key] = struct{}{}
	r.seenOrder = append(r.seenOrder, key)
	for len(r.seenOrder) > r.maxSeen {
		delete(r.seen, r.seenOrder[0])
		r.seenOrder = r.seenOrder[1:]
	}
}

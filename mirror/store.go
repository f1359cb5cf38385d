// Package mirror maintains the read-optimized projection of ledger state.
// Every mutating method corresponds to exactly one ledger event kind and is
// idempotent: patches are conditional updates keyed on the predecessor
// status, so re-applying the same event is a no-op. The mirror never
// originates a status change; the ledger stays ground truth for disputes.
package mirror

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/yourusername/proofpay/ledger"
	"github.com/yourusername/proofpay/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by lookups for payments the mirror has not seen.
var ErrNotFound = errors.New("payment not in mirror")

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertPayment projects a PaymentCreated event. Replaying the event leaves
// the existing row untouched.
func (s *Store) UpsertPayment(rec ledger.Record, condition string) error {
	row := models.Payment{
		PaymentID:       rec.ID,
		Principal:       rec.Principal,
		Verifier:        rec.Verifier,
		Amount:          rec.Amount,
		Condition:       condition,
		ConditionDigest: rec.ConditionDigest,
		Status:          string(ledger.StatusCreated),
		Deadline:        rec.Deadline,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

// MarkAccepted projects a PaymentAccepted event.
func (s *Store) MarkAccepted(paymentID uint64, worker string, at time.Time) error {
	return s.patch(paymentID, []string{string(ledger.StatusCreated)}, map[string]interface{}{
		"worker":      worker,
		"status":      string(ledger.StatusAccepted),
		"accepted_at": at,
	})
}

// MarkSubmitted projects a ProofSubmitted event.
func (s *Store) MarkSubmitted(paymentID uint64, at time.Time) error {
	return s.patch(paymentID, []string{string(ledger.StatusAccepted)}, map[string]interface{}{
		"status":       string(ledger.StatusSubmitted),
		"submitted_at": at,
	})
}

// RevertToAccepted projects a rejecting Verified event: the payment goes back
// to Accepted so the worker can resubmit.
func (s *Store) RevertToAccepted(paymentID uint64, at time.Time) error {
	return s.patch(paymentID, []string{string(ledger.StatusSubmitted)}, map[string]interface{}{
		"status":      string(ledger.StatusAccepted),
		"verified_at": at,
	})
}

// MarkReleased projects a Released event.
func (s *Store) MarkReleased(paymentID uint64, at time.Time) error {
	return s.patch(paymentID, []string{string(ledger.StatusSubmitted)}, map[string]interface{}{
		"status":      string(ledger.StatusReleased),
		"verified_at": at,
		"released_at": at,
	})
}

// MarkRefunded projects a Refunded event, legal from any non-terminal status.
func (s *Store) MarkRefunded(paymentID uint64, at time.Time) error {
	return s.patch(paymentID, []string{
		string(ledger.StatusCreated),
		string(ledger.StatusAccepted),
		string(ledger.StatusSubmitted),
	}, map[string]interface{}{
		"status":      string(ledger.StatusRefunded),
		"released_at": at,
	})
}

// patch applies a conditional update. Zero rows affected means the row is
// already past the expected predecessor status; that makes replays no-ops.
func (s *Store) patch(paymentID uint64, fromStatuses []string, fields map[string]interface{}) error {
	return s.db.Model(&models.Payment{}).
		Where("payment_id = ? AND status IN ?", paymentID, fromStatuses).
		Updates(fields).Error
}

// ReplaceProof stores the current proof for a payment, overwriting any
// previous submission.
func (s *Store) ReplaceProof(paymentID uint64, digest, content, submittedBy string, at time.Time) error {
	row := models.Proof{
		PaymentID:   paymentID,
		ProofDigest: digest,
		Content:     content,
		SubmittedBy: submittedBy,
		SubmittedAt: at,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"proof_digest", "content", "submitted_by", "submitted_at", "updated_at"}),
	}).Create(&row).Error
}

// AddVerification appends one oracle decision record.
func (s *Store) AddVerification(paymentID uint64, proofDigest string, approved bool, confidence float64, reason string, issues []string, at time.Time) error {
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return err
	}
	row := models.Verification{
		PaymentID:   paymentID,
		ProofDigest: proofDigest,
		Approved:    approved,
		Confidence:  confidence,
		Reason:      reason,
		Issues:      string(issuesJSON),
		VerifiedAt:  at,
	}
	return s.db.Create(&row).Error
}

// ByID returns the mirror row for one payment, with its current proof.
func (s *Store) ByID(paymentID uint64) (*models.Payment, error) {
	var p models.Payment
	err := s.db.Preload("Proof").Where("payment_id = ?", paymentID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns payments filtered by any combination of principal, worker and
// status. Empty filters match everything.
func (s *Store) List(principal, worker, status string) ([]models.Payment, error) {
	q := s.db.Model(&models.Payment{})
	if principal != "" {
		q = q.Where("principal = ?", principal)
	}
	if worker != "" {
		q = q.Where("worker = ?", worker)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Payment
	if err := q.Order("payment_id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ReviewQueue returns Submitted payments joined with their current proof,
// oldest submission first. This is the verifier's work list.
func (s *Store) ReviewQueue() ([]models.Payment, error) {
	var out []models.Payment
	err := s.db.Preload("Proof").
		Where("status = ?", string(ledger.StatusSubmitted)).
		Order("submitted_at").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verifications returns all decision records for a payment, oldest first.
func (s *Store) Verifications(paymentID uint64) ([]models.Verification, error) {
	var out []models.Verification
	if err := s.db.Where("payment_id = ?", paymentID).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

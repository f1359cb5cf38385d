package models

import (
	"time"

	"gorm.io/gorm"
)

// Proof holds the current proof for a payment. The ledger stores only the
// digest; the raw content lives here for the verifier's review. Resubmission
// after a rejection replaces the row in place.
type Proof struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	PaymentID   uint64         `gorm:"uniqueIndex;not null" json:"payment_id"`
	ProofDigest string         `gorm:"size:64;not null" json:"proof_digest"`
	Content     string         `gorm:"type:text" json:"content"`
	SubmittedBy string         `gorm:"size:56;not null" json:"submitted_by"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// TableName overrides the table name
func (Proof) TableName() string {
	return "proofs"
}

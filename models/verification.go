package models

import (
	"time"

	"gorm.io/gorm"
)

// Verification records one oracle decision. A payment accumulates one row per
// verification attempt across reject/resubmit rounds.
type Verification struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	PaymentID   uint64         `gorm:"index;not null" json:"payment_id"`
	ProofDigest string         `gorm:"size:64" json:"proof_digest"`
	Approved    bool           `gorm:"not null" json:"approved"`
	Confidence  float64        `json:"confidence"`
	Reason      string         `gorm:"type:text" json:"reason"`
	Issues      string         `gorm:"type:text" json:"issues"` // JSON array of issue strings
	VerifiedAt  time.Time      `json:"verified_at"`
}

// TableName overrides the table name
func (Verification) TableName() string {
	return "verifications"
}

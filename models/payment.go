package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment is the mirror row for a ledger payment. PaymentID is the ledger's
// id; Status always trails (never leads) the ledger. Condition holds the
// full text whose SHA-256 digest the ledger committed to.
type Payment struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	PaymentID       uint64         `gorm:"uniqueIndex;not null" json:"payment_id"`
	Principal       string         `gorm:"size:56;index;not null" json:"principal"`
	Worker          string         `gorm:"size:56;index" json:"worker"`
	Verifier        string         `gorm:"size:56;not null" json:"verifier"`
	Amount          int64          `gorm:"not null" json:"amount"`
	Condition       string         `gorm:"type:text" json:"condition"`
	ConditionDigest string         `gorm:"size:64;not null" json:"condition_digest"`
	Status          string         `gorm:"size:20;index;default:'created'" json:"status"` // created, accepted, submitted, released, refunded
	Deadline        time.Time      `json:"deadline"`
	AcceptedAt      *time.Time     `json:"accepted_at,omitempty"`
	SubmittedAt     *time.Time     `json:"submitted_at,omitempty"`
	VerifiedAt      *time.Time     `json:"verified_at,omitempty"`
	ReleasedAt      *time.Time     `json:"released_at,omitempty"`
	Proof           *Proof         `gorm:"foreignKey:PaymentID;references:PaymentID" json:"proof,omitempty"`
}

// TableName overrides the table name
func (Payment) TableName() string {
	return "payments"
}

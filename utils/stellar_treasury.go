package utils

import (
	"fmt"
)

// StellarTreasury settles terminal payment transitions over Stellar. The
// escrow account is a platform-held account the principal deposits into when
// creating a payment; Payout and Refund move funds out of it. It implements
// ledger.Treasury.
type StellarTreasury struct {
	client       StellarClientInterface
	escrowSecret string
	assetCode    string
	assetIssuer  string
}

func NewStellarTreasury(client StellarClientInterface, escrowSecret, assetCode, assetIssuer string) *StellarTreasury {
	return &StellarTreasury{
		client:       client,
		escrowSecret: escrowSecret,
		assetCode:    assetCode,
		assetIssuer:  assetIssuer,
	}
}

// Escrow confirms the principal's account exists. The deposit itself is a
// transaction the principal signs with their own wallet; key custody is not
// this service's job.
func (t *StellarTreasury) Escrow(principal string, amount int64) error {
	if err := t.client.ValidateAccount(principal); err != nil {
		return fmt.Errorf("principal account: %w", err)
	}
	return nil
}

func (t *StellarTreasury) Payout(worker string, amount int64) error {
	_, err := t.client.SubmitPayment(t.escrowSecret, worker, t.assetCode, t.assetIssuer, FormatAmount(amount))
	if err != nil {
		return fmt.Errorf("payout: %w", err)
	}
	return nil
}

func (t *StellarTreasury) Refund(principal string, amount int64) error {
	_, err := t.client.SubmitPayment(t.escrowSecret, principal, t.assetCode, t.assetIssuer, FormatAmount(amount))
	if err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	return nil
}

// FormatAmount renders an amount in the smallest currency unit (cents) as
// the decimal string the Stellar SDK expects.
func FormatAmount(units int64) string {
	return fmt.Sprintf("%d.%02d", units/100, units%100)
}

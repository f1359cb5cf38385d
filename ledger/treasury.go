package ledger

import (
	"fmt"
	"sync"
)

// Treasury moves funds in and out of escrow. Escrow is called once at
// creation; exactly one of Payout or Refund is called when a payment reaches
// a terminal state. Implementations must be safe for concurrent use.
type Treasury interface {
	Escrow(principal string, amount int64) error
	Payout(worker string, amount int64) error
	Refund(principal string, amount int64) error
}

// MemTreasury keeps balances in memory. It backs tests and single-node
// deployments that settle off-chain; the Stellar-backed treasury in utils
// replaces it when an escrow account is configured.
type MemTreasury struct {
	mu       sync.Mutex
	balances map[string]int64
	escrowed int64
}

func NewMemTreasury() *MemTreasury {
	return &MemTreasury{balances: make(map[string]int64)}
}

// Credit funds an account. Test and bootstrap helper.
func (t *MemTreasury) Credit(account string, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] += amount
}

// Balance returns the spendable balance of an account.
func (t *MemTreasury) Balance(account string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account]
}

// Escrowed returns the total currently held in escrow.
func (t *MemTreasury) Escrowed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.escrowed
}

func (t *MemTreasury) Escrow(principal string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[principal] < amount {
		return fmt.Errorf("insufficient balance for %s: have %d, need %d", principal, t.balances[principal], amount)
	}
	t.balances[principal] -= amount
	t.escrowed += amount
	return nil
}

func (t *MemTreasury) Payout(worker string, amount int64) error {
	return t.disburse(worker, amount)
}

func (t *MemTreasury) Refund(principal string, amount int64) error {
	return t.disburse(principal, amount)
}

func (t *MemTreasury) disburse(to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.escrowed < amount {
		return fmt.Errorf("escrow underflow: have %d, need %d", t.escrowed, amount)
	}
	t.escrowed -= amount
	t.balances[to] += amount
	return nil
}

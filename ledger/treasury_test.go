package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTreasuryBookkeeping(t *testing.T) {
	treasury := NewMemTreasury()
	treasury.Credit("alice", 300)

	require.NoError(t, treasury.Escrow("alice", 200))
	assert.Equal(t, int64(100), treasury.Balance("alice"))
	assert.Equal(t, int64(200), treasury.Escrowed())

	require.NoError(t, treasury.Payout("bob", 150))
	assert.Equal(t, int64(150), treasury.Balance("bob"))

	require.NoError(t, treasury.Refund("alice", 50))
	assert.Equal(t, int64(150), treasury.Balance("alice"))
	assert.Equal(t, int64(0), treasury.Escrowed())

	assert.Error(t, treasury.Payout("bob", 1), "escrow is empty")
}

func TestEscrowInsufficientFunds(t *testing.T) {
	treasury := NewMemTreasury()
	treasury.Credit(principal, 10)
	l := New(treasury)

	_, err := l.CreatePayment(principal, verifier, "digest", time.Now().Add(time.Hour), 100)
	assert.ErrorIs(t, err, ErrTransferFailure)
	assert.Equal(t, int64(10), treasury.Balance(principal))

	// The failed escrow consumed no id.
	_, err = l.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

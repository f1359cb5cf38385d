package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/proofpay/ledger"
	"github.com/yourusername/proofpay/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Payment{}, &models.Proof{}, &models.Verification{}))
	return NewStore(db)
}

func sampleRecord(id uint64) ledger.Record {
	return ledger.Record{
		ID:              id,
		Principal:       "GPRINCIPAL",
		Verifier:        "GVERIFIER",
		Amount:          100,
		ConditionDigest: "digest",
		Status:          ledger.StatusCreated,
		Deadline:        time.Now().Add(time.Hour),
	}
}

func TestUpsertPaymentIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertPayment(sampleRecord(1), "ship the widget"))
	// Replaying the create must not clobber the stored condition text.
	require.NoError(t, s.UpsertPayment(sampleRecord(1), ""))

	row, err := s.ByID(1)
	require.NoError(t, err)
	assert.Equal(t, "ship the widget", row.Condition)
	assert.Equal(t, "created", row.Status)

	var count int64
	s.db.Model(&models.Payment{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestPatchesAreIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertPayment(sampleRecord(1), "cond"))

	at := time.Now()
	require.NoError(t, s.MarkAccepted(1, "GWORKER", at))
	row, err := s.ByID(1)
	require.NoError(t, err)
	assert.Equal(t, "accepted", row.Status)
	assert.Equal(t, "GWORKER", row.Worker)
	require.NotNil(t, row.AcceptedAt)

	// Re-applying the same patch changes nothing, including the timestamp.
	firstAcceptedAt := *row.AcceptedAt
	require.NoError(t, s.MarkAccepted(1, "GSOMEONEELSE", at.Add(time.Minute)))
	row, err = s.ByID(1)
	require.NoError(t, err)
	assert.Equal(t, "GWORKER", row.Worker)
	assert.Equal(t, firstAcceptedAt.Unix(), row.AcceptedAt.Unix())

	require.NoError(t, s.MarkSubmitted(1, at))
	require.NoError(t, s.MarkSubmitted(1, at.Add(time.Minute)))
	row, _ = s.ByID(1)
	assert.Equal(t, "submitted", row.Status)

	require.NoError(t, s.MarkReleased(1, at))
	require.NoError(t, s.MarkReleased(1, at))
	row, _ = s.ByID(1)
	assert.Equal(t, "released", row.Status)

	// A terminal row rejects every further patch silently.
	require.NoError(t, s.MarkRefunded(1, at))
	row, _ = s.ByID(1)
	assert.Equal(t, "released", row.Status)
}

func TestRejectCycle(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertPayment(sampleRecord(1), "cond"))
	at := time.Now()
	require.NoError(t, s.MarkAccepted(1, "GWORKER", at))
	require.NoError(t, s.MarkSubmitted(1, at))

	require.NoError(t, s.RevertToAccepted(1, at))
	row, err := s.ByID(1)
	require.NoError(t, err)
	assert.Equal(t, "accepted", row.Status)
	assert.NotNil(t, row.VerifiedAt)

	// Second round submits and releases.
	require.NoError(t, s.MarkSubmitted(1, at))
	require.NoError(t, s.MarkReleased(1, at))
	row, _ = s.ByID(1)
	assert.Equal(t, "released", row.Status)
}

func TestMarkRefundedFromAnyNonTerminal(t *testing.T) {
	s := setupTestStore(t)
	at := time.Now()

	require.NoError(t, s.UpsertPayment(sampleRecord(1), ""))
	require.NoError(t, s.MarkRefunded(1, at))

	require.NoError(t, s.UpsertPayment(sampleRecord(2), ""))
	require.NoError(t, s.MarkAccepted(2, "GWORKER", at))
	require.NoError(t, s.MarkRefunded(2, at))

	require.NoError(t, s.UpsertPayment(sampleRecord(3), ""))
	require.NoError(t, s.MarkAccepted(3, "GWORKER", at))
	require.NoError(t, s.MarkSubmitted(3, at))
	require.NoError(t, s.MarkRefunded(3, at))

	for id := uint64(1); id <= 3; id++ {
		row, err := s.ByID(id)
		require.NoError(t, err)
		assert.Equal(t, "refunded", row.Status)
	}
}

func TestReplaceProof(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertPayment(sampleRecord(1), "cond"))

	at := time.Now()
	require.NoError(t, s.ReplaceProof(1, "digest-v1", "first attempt", "GWORKER", at))
	require.NoError(t, s.ReplaceProof(1, "digest-v2", "second attempt", "GWORKER", at.Add(time.Minute)))

	row, err := s.ByID(1)
	require.NoError(t, err)
	require.NotNil(t, row.Proof)
	assert.Equal(t, "digest-v2", row.Proof.ProofDigest)
	assert.Equal(t, "second attempt", row.Proof.Content)

	var count int64
	s.db.Model(&models.Proof{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestListFilters(t *testing.T) {
	s := setupTestStore(t)
	at := time.Now()

	recA := sampleRecord(1)
	recB := sampleRecord(2)
	recB.Principal = "GOTHER"
	require.NoError(t, s.UpsertPayment(recA, ""))
	require.NoError(t, s.UpsertPayment(recB, ""))
	require.NoError(t, s.MarkAccepted(2, "GWORKER", at))

	byPrincipal, err := s.List("GPRINCIPAL", "", "")
	require.NoError(t, err)
	require.Len(t, byPrincipal, 1)
	assert.Equal(t, uint64(1), byPrincipal[0].PaymentID)

	byWorker, err := s.List("", "GWORKER", "")
	require.NoError(t, err)
	require.Len(t, byWorker, 1)
	assert.Equal(t, uint64(2), byWorker[0].PaymentID)

	byStatus, err := s.List("", "", "accepted")
	require.NoError(t, err)
	require.Len(t, byStatus, 1)

	all, err := s.List("", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReviewQueue(t *testing.T) {
	s := setupTestStore(t)
	at := time.Now()

	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, s.UpsertPayment(sampleRecord(id), "cond"))
		require.NoError(t, s.MarkAccepted(id, "GWORKER", at))
	}
	// Only 2 and 3 reach Submitted; 3 submitted first.
	require.NoError(t, s.ReplaceProof(3, "d3", "proof three", "GWORKER", at))
	require.NoError(t, s.MarkSubmitted(3, at))
	require.NoError(t, s.ReplaceProof(2, "d2", "proof two", "GWORKER", at.Add(time.Minute)))
	require.NoError(t, s.MarkSubmitted(2, at.Add(time.Minute)))

	queue, err := s.ReviewQueue()
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, uint64(3), queue[0].PaymentID)
	assert.Equal(t, uint64(2), queue[1].PaymentID)
	require.NotNil(t, queue[0].Proof)
	assert.Equal(t, "proof three", queue[0].Proof.Content)
}

func TestVerificationsAccumulate(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertPayment(sampleRecord(1), "cond"))
	at := time.Now()

	require.NoError(t, s.AddVerification(1, "d1", false, 0.4, "missing screenshots", []string{"no evidence of deploy"}, at))
	require.NoError(t, s.AddVerification(1, "d2", true, 0.92, "all criteria met", nil, at.Add(time.Hour)))

	vs, err := s.Verifications(1)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.False(t, vs[0].Approved)
	assert.Contains(t, vs[0].Issues, "no evidence of deploy")
	assert.True(t, vs[1].Approved)
	assert.InDelta(t, 0.92, vs[1].Confidence, 1e-9)
}

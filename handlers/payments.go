package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/proofpay/config"
	"github.com/yourusername/proofpay/ledger"
	"github.com/yourusername/proofpay/middleware"
	"github.com/yourusername/proofpay/mirror"
	"github.com/yourusername/proofpay/oracle"
	"github.com/yourusername/proofpay/pkg/logger"
)

// VerificationOracle is the decision function consulted before a verify
// transition. *oracle.Client satisfies it; tests swap in a mock.
type VerificationOracle interface {
	Verify(ctx context.Context, condition, proofContent string) (*oracle.Result, error)
}

type PaymentHandler struct {
	ledger *ledger.Ledger
	mirror *mirror.Store
	oracle VerificationOracle
	config *config.Config
}

func NewPaymentHandler(l *ledger.Ledger, m *mirror.Store, o VerificationOracle, cfg *config.Config) *PaymentHandler {
	return &PaymentHandler{
		ledger: l,
		mirror: m,
		oracle: o,
		config: cfg,
	}
}

type CreatePaymentRequest struct {
	Verifier  string `json:"verifier" binding:"required"`
	Condition string `json:"condition" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Deadline  int64  `json:"deadline" binding:"required"` // unix seconds
}

type SubmitProofRequest struct {
	Content string `json:"content" binding:"required"`
}

// DigestOf is the commitment binding the ledger to off-record text: the
// hex-encoded SHA-256 of the content.
func DigestOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CreatePayment escrows funds for a new conditional payment. The caller is
// the principal; the ledger stores only the condition digest, the mirror
// keeps the full text.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "InvalidInput"})
		return
	}

	caller := middleware.CallerAddress(c)
	rec, err := h.ledger.CreatePayment(caller, req.Verifier, DigestOf(req.Condition), time.Unix(req.Deadline, 0), req.Amount)
	if err != nil {
		ledgerError(c, err)
		return
	}

	if err := h.mirror.UpsertPayment(rec, req.Condition); err != nil {
		// The ledger transition already succeeded; the reconciler will
		// repair the projection, but the staleness must be visible.
		logger.Error(c.Request.Context(), "mirror write failed after ledger create",
			"payment_id", rec.ID, "error", err)
	}

	c.JSON(http.StatusCreated, rec)
}

// AcceptPayment binds the caller as the worker.
func (h *PaymentHandler) AcceptPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	caller := middleware.CallerAddress(c)

	rec, err := h.ledger.AcceptPayment(id, caller)
	if err != nil {
		ledgerError(c, err)
		return
	}

	if err := h.mirror.MarkAccepted(id, caller, time.Now()); err != nil {
		logger.Error(c.Request.Context(), "mirror write failed after accept",
			"payment_id", id, "error", err)
	}

	c.JSON(http.StatusOK, rec)
}

// SubmitProof records the worker's proof. The raw content goes to the
// mirror; only its digest reaches the ledger.
func (h *PaymentHandler) SubmitProof(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	var req SubmitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "InvalidInput"})
		return
	}

	caller := middleware.CallerAddress(c)
	digest := DigestOf(req.Content)
	rec, err := h.ledger.SubmitProof(id, caller, digest)
	if err != nil {
		ledgerError(c, err)
		return
	}

	now := time.Now()
	if err := h.mirror.ReplaceProof(id, digest, req.Content, caller, now); err != nil {
		logger.Error(c.Request.Context(), "mirror proof write failed",
			"payment_id", id, "error", err)
	}
	if err := h.mirror.MarkSubmitted(id, now); err != nil {
		logger.Error(c.Request.Context(), "mirror write failed after submit",
			"payment_id", id, "error", err)
	}

	c.JSON(http.StatusOK, rec)
}

// VerifyPayment runs the oracle over the payment's condition and current
// proof, then applies the decision to the ledger. An oracle failure aborts
// before any ledger transition is attempted.
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	caller := middleware.CallerAddress(c)

	// Cheap precondition checks before paying for an oracle call. The
	// ledger re-checks both atomically during the transition.
	rec, err := h.ledger.Get(id)
	if err != nil {
		ledgerError(c, err)
		return
	}
	if rec.Verifier != caller {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the verifier may verify this payment", "code": "NotAuthorized"})
		return
	}
	if rec.Status != ledger.StatusSubmitted {
		c.JSON(http.StatusConflict, gin.H{"error": "payment has no proof awaiting verification", "code": "InvalidState"})
		return
	}

	row, err := h.mirror.ByID(id)
	if err != nil || row.Proof == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "proof content not available for review", "code": "InvalidState"})
		return
	}

	result, err := h.oracle.Verify(c.Request.Context(), row.Condition, row.Proof.Content)
	if err != nil {
		logger.Error(c.Request.Context(), "oracle call failed", "payment_id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "verification oracle unavailable", "code": "OracleFailure"})
		return
	}

	rec, err = h.ledger.Verify(id, caller, result.Approved)
	if err != nil {
		ledgerError(c, err)
		return
	}

	now := time.Now()
	if err := h.mirror.AddVerification(id, rec.ProofDigest, result.Approved, result.Confidence, result.Reason, result.Issues, now); err != nil {
		logger.Error(c.Request.Context(), "mirror verification write failed",
			"payment_id", id, "error", err)
	}
	var patchErr error
	if result.Approved {
		patchErr = h.mirror.MarkReleased(id, now)
	} else {
		patchErr = h.mirror.RevertToAccepted(id, now)
	}
	if patchErr != nil {
		logger.Error(c.Request.Context(), "mirror write failed after verify",
			"payment_id", id, "error", patchErr)
	}

	c.JSON(http.StatusOK, gin.H{
		"payment":      rec,
		"verification": result,
	})
}

// RefundPayment refunds an expired payment. Anyone may call it.
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	caller := middleware.CallerAddress(c)

	rec, err := h.ledger.RefundOnTimeout(id, caller)
	if err != nil {
		ledgerError(c, err)
		return
	}

	if err := h.mirror.MarkRefunded(id, time.Now()); err != nil {
		logger.Error(c.Request.Context(), "mirror write failed after refund",
			"payment_id", id, "error", err)
	}

	c.JSON(http.StatusOK, rec)
}

// CancelPayment withdraws an unaccepted payment. Principal only.
func (h *PaymentHandler) CancelPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	caller := middleware.CallerAddress(c)

	rec, err := h.ledger.CancelPayment(id, caller)
	if err != nil {
		ledgerError(c, err)
		return
	}

	if err := h.mirror.MarkRefunded(id, time.Now()); err != nil {
		logger.Error(c.Request.Context(), "mirror write failed after cancel",
			"payment_id", id, "error", err)
	}

	c.JSON(http.StatusOK, rec)
}

// GetPayment returns the ledger's authoritative record.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	rec, err := h.ledger.Get(id)
	if err != nil {
		ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListPayments serves filtered listing views from the mirror. It never
// touches the ledger.
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	rows, err := h.mirror.List(c.Query("principal"), c.Query("worker"), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch payments"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// ReviewQueue serves the verifier's work list: submitted payments joined
// with their current proof.
func (h *PaymentHandler) ReviewQueue(c *gin.Context) {
	rows, err := h.mirror.ReviewQueue()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch review queue"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func paymentID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id", "code": "InvalidInput"})
		return 0, false
	}
	return id, true
}

// ledgerError maps the ledger's error taxonomy onto HTTP so a caller can
// tell a permanent rejection from a transient one.
func ledgerError(c *gin.Context, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status, code = http.StatusNotFound, "NotFound"
	case errors.Is(err, ledger.ErrNotAuthorized):
		status, code = http.StatusForbidden, "NotAuthorized"
	case errors.Is(err, ledger.ErrInvalidInput):
		status, code = http.StatusBadRequest, "InvalidInput"
	case errors.Is(err, ledger.ErrInvalidState):
		status, code = http.StatusConflict, "InvalidState"
	case errors.Is(err, ledger.ErrDeadlineExpired):
		status, code = http.StatusConflict, "DeadlineExpired"
	case errors.Is(err, ledger.ErrDeadlineNotExpired):
		status, code = http.StatusConflict, "DeadlineNotExpired"
	case errors.Is(err, ledger.ErrTransferFailure):
		status, code = http.StatusBadGateway, "TransferFailure"
	default:
		status, code = http.StatusInternalServerError, "Internal"
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

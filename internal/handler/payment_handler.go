package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"payment-service/internal/domain"
	"payment-service/internal/orchestrator"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

func NewPaymentHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		orch:   orch,
		logger: logger,
	}
}

// sessionView is the API shape of a session. Raw provider error codes never
// appear here; last_error is already normalized user-presentable text.
type sessionView struct {
	SessionID     string  `json:"session_id"`
	ReferenceID   string  `json:"reference_id"`
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Phone         string  `json:"phone"`
	Provider      string  `json:"provider"`
	Status        string  `json:"status"` // pending | succeeded | failed | cancelled
	Detail        string  `json:"detail,omitempty"`
	Attempts      int     `json:"attempts"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func toView(s *domain.PaymentSession) sessionView {
	v := sessionView{
		SessionID:     s.ID,
		ReferenceID:   s.ReferenceID,
		TransactionID: s.TransactionID,
		Amount:        s.Amount,
		Currency:      s.Currency,
		Phone:         s.PayerHandle,
		Provider:      string(s.Provider),
		Attempts:      s.Attempts,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
	}

	switch s.State {
	case domain.StateSucceeded:
		v.Status = "succeeded"
		v.Detail = "payment completed"
	case domain.StateFailed:
		v.Status = "failed"
		if s.LastError != nil {
			v.Detail = *s.LastError
		} else {
			v.Detail = "payment failed"
		}
	case domain.StateCancelled:
		v.Status = "cancelled"
		v.Detail = "payment cancelled"
	default:
		v.Status = "pending"
		v.Detail = "complete the approval prompt on your phone, then verify"
	}
	return v
}

// HandleInitiate starts a new mobile-money charge.
// POST /api/v1/payments/initiate
func (h *PaymentHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode initiate request", zap.Error(err))
		h.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	session, err := h.orch.StartPayment(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			h.sendError(w, http.StatusBadRequest, "payment initiation failed", err)
			return
		}
		if session != nil {
			// The session exists but initiation ended in failure; report the
			// outcome rather than a raw error.
			h.sendSuccess(w, http.StatusCreated, "payment initiation failed", toView(session))
			return
		}
		h.logger.Error("failed to start payment", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "payment initiation failed", nil)
		return
	}

	h.sendSuccess(w, http.StatusCreated,
		"payment initiated successfully, complete the transaction on your mobile device",
		toView(session))
}

// HandleVerify runs one verification check for the session.
// POST /api/v1/payments/{session_id}/verify
func (h *PaymentHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "session_id")

	session, err := h.orch.Confirm(ctx, id)
	if err != nil {
		h.writeSessionError(w, id, "payment verification failed", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "payment verification completed", toView(session))
}

// HandleCancel cancels a pending session.
// POST /api/v1/payments/{session_id}/cancel
func (h *PaymentHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "session_id")

	session, err := h.orch.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			h.sendError(w, http.StatusConflict, "payment can no longer be cancelled", err)
			return
		}
		h.writeSessionError(w, id, "payment cancellation failed", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "payment cancelled", toView(session))
}

// HandleGet returns one session.
// GET /api/v1/payments/{session_id}
func (h *PaymentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "session_id")

	session, err := h.orch.Get(ctx, id)
	if err != nil {
		h.writeSessionError(w, id, "failed to retrieve payment", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "payment retrieved successfully", toView(session))
}

// HandleList returns the payer's sessions, newest first.
// GET /api/v1/payments?phone=...&status=...
func (h *PaymentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	phone := r.URL.Query().Get("phone")
	if phone == "" {
		h.sendError(w, http.StatusBadRequest, "failed to retrieve payments",
			errors.New("phone query parameter is required"))
		return
	}

	var state *domain.SessionState
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.SessionState(raw)
		state = &st
	}

	sessions, err := h.orch.List(ctx, phone, state)
	if err != nil {
		h.logger.Error("failed to list payments", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "failed to retrieve payments", nil)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toView(s))
	}
	h.sendSuccess(w, http.StatusOK, "payments retrieved successfully", views)
}

func (h *PaymentHandler) writeSessionError(w http.ResponseWriter, id, message string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		h.sendError(w, http.StatusNotFound, message, errors.New("no payment found with this session id"))
		return
	}
	h.logger.Error(message,
		zap.String("session_id", id),
		zap.Error(err))
	h.sendError(w, http.StatusInternalServerError, message, nil)
}

// Response helpers
func (h *PaymentHandler) sendSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func (h *PaymentHandler) sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"success": false,
		"message": message,
	}
	if err != nil {
		response["error"] = err.Error()
	}
	json.NewEncoder(w).Encode(response)
}

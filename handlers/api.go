package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"petsoft/auth"
	"petsoft/db"
	"petsoft/payment"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// APIListPets serves the signed-in user's pets as JSON for the browser
// extension. It authenticates with the same session cookie as the pages.
func (h *Handler) APIListPets(w http.ResponseWriter, r *http.Request) {
	sess, err := auth.CheckAuth(r.Context())
	if err != nil {
		sendJSONResponse(w, http.StatusUnauthorized, APIResponse{Status: "error", Message: "Unauthenticated"})
		return
	}
	if !sess.HasAccess {
		sendJSONResponse(w, http.StatusForbidden, APIResponse{Status: "error", Message: "Payment required"})
		return
	}

	pets, err := h.svc.ListPets(r.Context())
	if err != nil {
		h.log.Error("api list pets", zap.String("user_id", sess.UserID), zap.Error(err))
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: "Internal error"})
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: pets})
}

const maxWebhookBody = 64 << 10

// StripeWebhook grants access once Stripe reports a completed checkout.
// Without a signing secret every payload would verify, so it refuses to run.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		h.log.Error("webhook received but no signing secret is configured")
		sendJSONResponse(w, http.StatusServiceUnavailable, APIResponse{Status: "error", Message: "Webhook not configured"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		sendJSONResponse(w, http.StatusRequestEntityTooLarge, APIResponse{Status: "error", Message: "Payload too large"})
		return
	}

	completed, err := payment.ParseWebhook(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.log.Warn("rejected webhook", zap.Error(err))
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: "Invalid webhook"})
		return
	}
	if completed == nil {
		sendJSONResponse(w, http.StatusOK, APIResponse{Status: "ignored"})
		return
	}

	if err := h.svc.GrantAccess(r.Context(), completed.CustomerEmail); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Acknowledged so Stripe stops resending it.
			h.log.Warn("checkout for unknown account", zap.String("session_id", completed.SessionID), zap.Error(err))
			sendJSONResponse(w, http.StatusOK, APIResponse{Status: "ignored"})
			return
		}
		h.log.Error("grant access", zap.String("session_id", completed.SessionID), zap.Error(err))
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: "Internal error"})
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			sendJSONResponse(w, http.StatusServiceUnavailable, APIResponse{Status: "error", Message: "unavailable"})
			return
		}
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "ok"})
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"plantscan/api/internal/apperr"
	"plantscan/api/internal/payments"
)

type verifyPaymentRequest struct {
	Reference string `json:"reference" binding:"required"`
}

type verifyPaymentResponse struct {
	Success   bool       `json:"success"`
	Reference string     `json:"reference"`
	Status    string     `json:"status"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
}

// VerifyPayment reports the gateway's view of a reference. It never grants
// anything; activation goes through CreateSubscription.
func (h HandlerSet) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if !h.bindJSON(c, &req) {
		return
	}

	v, err := h.entitlement.VerifyPayment(c.Request.Context(), req.Reference)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := verifyPaymentResponse{
		Success:   v.Success,
		Reference: v.Reference,
		Status:    v.Status,
		Amount:    v.Amount,
		Currency:  v.Currency,
	}
	if !v.PaidAt.IsZero() {
		resp.PaidAt = &v.PaidAt
	}
	c.JSON(http.StatusOK, resp)
}

// PaymentWebhook receives gateway events. The signature was checked by
// middleware; the reference is verified again before anything is granted.
func (h HandlerSet) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.respondError(c, apperr.Validation("invalid request body"))
		return
	}

	event, err := payments.ParseWebhookEvent(body)
	if err != nil {
		if errors.Is(err, payments.ErrMalformedEvent) {
			h.respondError(c, apperr.Validation(err.Error()))
			return
		}
		h.respondError(c, err)
		return
	}

	if err := h.entitlement.HandleWebhookEvent(c.Request.Context(), event); err != nil {
		h.log.Warn().Err(err).Str("event", event.Event).Str("reference", event.Reference).Msg("webhook handling failed")
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"plantscan/api/internal/models"
	"plantscan/api/internal/service"
)

func (h HandlerSet) ActiveSubscription(c *gin.Context) {
	sub, err := h.entitlement.ActiveSubscription(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": newSubscriptionResponse(sub)})
}

type createSubscriptionRequest struct {
	PlanType         string `json:"planType" binding:"required,oneof=basic premium"`
	BillingCycle     string `json:"billingCycle" binding:"required,oneof=monthly yearly"`
	PaymentReference string `json:"paymentReference" binding:"required"`
}

// CreateSubscription activates the caller's plan after the gateway confirmed
// the payment reference.
func (h HandlerSet) CreateSubscription(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	var req createSubscriptionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	sub, err := h.entitlement.VerifyAndActivateSubscription(c.Request.Context(), service.ActivationInput{
		UserID:           principal.UserID,
		PaymentReference: req.PaymentReference,
		PlanType:         models.PlanType(req.PlanType),
		BillingCycle:     models.BillingCycle(req.BillingCycle),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSubscriptionResponse(&sub))
}

func (h HandlerSet) CancelSubscription(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	sub, err := h.entitlement.CancelSubscription(c.Request.Context(), principal.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSubscriptionResponse(&sub))
}

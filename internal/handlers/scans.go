package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetScanCount answers the stored counter for the day, or null.
func (h HandlerSet) GetScanCount(c *gin.Context) {
	counter, err := h.entitlement.ScanCounter(c.Request.Context(), c.Param("userId"), c.Param("date"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if counter == nil {
		c.JSON(http.StatusOK, nil)
		return
	}

	c.JSON(http.StatusOK, newScanCounterResponse(*counter))
}

func (h HandlerSet) IncrementScan(c *gin.Context) {
	counter, err := h.entitlement.IncrementScan(c.Request.Context(), c.Param("userId"), c.Param("date"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newScanCounterResponse(counter))
}

func (h HandlerSet) ReserveScan(c *gin.Context) {
	reservation, err := h.entitlement.ReserveScan(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newReservationResponse(reservation))
}

func (h HandlerSet) ReleaseScan(c *gin.Context) {
	counter, err := h.entitlement.ReleaseScan(c.Request.Context(), c.Param("userId"), c.Param("date"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newScanCounterResponse(counter))
}

func (h HandlerSet) Entitlements(c *gin.Context) {
	summary, err := h.entitlement.Summary(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newEntitlementResponse(summary))
}

package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"plantscan/api/internal/security"
)

const maxWebhookBody = 1 << 20

func NewReadCloser(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}

// WebhookSignature checks the gateway's HMAC over the raw body and restores the
// body for the handler.
func WebhookSignature(secret string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := c.GetHeader(security.HeaderWebhookSignature)
		if signature == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature required"})
			return
		}

		rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		c.Request.Body = NewReadCloser(rawBody)

		if !security.ValidWebhookSignature(secret, rawBody, signature) {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		c.Next()
	}
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad"), http.StatusBadRequest},
		{"conflict", Conflict("dup"), http.StatusBadRequest},
		{"authentication", Authentication("no"), http.StatusUnauthorized},
		{"forbidden", Forbidden("no"), http.StatusForbidden},
		{"not found", NotFound("gone"), http.StatusNotFound},
		{"rate limit", RateLimit("slow down"), http.StatusTooManyRequests},
		{"dependency", Dependency("upstream"), http.StatusBadGateway},
		{"wrapped", fmt.Errorf("ctx: %w", NotFound("gone")), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
		{"zero kind", &Error{Message: "x"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestAs(t *testing.T) {
	sentinel := Dependency("gateway down")
	got, ok := As(fmt.Errorf("verify: %w", sentinel))
	assert.True(t, ok)
	assert.Same(t, sentinel, got)
	assert.True(t, got.Retryable)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

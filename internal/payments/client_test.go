package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantscan/api/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.PaymentsConfig{
		BaseURL:   server.URL,
		SecretKey: "sk_test",
		Timeout:   timeout,
	}, WithHTTPClient(server.Client()))
}

func TestVerifySuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ref-1", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {
				"status": "success",
				"reference": "ref-1",
				"amount": 500000,
				"currency": "ngn",
				"paid_at": "2025-01-01T10:00:00Z",
				"gateway_response": "Approved",
				"metadata": {"userId": "u1", "planType": "premium", "billingCycle": "monthly"}
			}
		}`))
	}, time.Second)

	v, err := client.Verify(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.True(t, v.Success)
	assert.Equal(t, int64(500000), v.Amount)
	assert.Equal(t, "NGN", v.Currency)
	assert.Equal(t, "Approved", v.GatewayResponse)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), v.PaidAt)
	assert.Equal(t, "u1", v.Metadata["userId"])
}

func TestVerifyFailedTransaction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": true, "data": {"status": "abandoned", "reference": "ref-1", "amount": 500000}}`))
	}, time.Second)

	v, err := client.Verify(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.False(t, v.Success)
	assert.Equal(t, "abandoned", v.Status)
}

func TestVerifyReferenceMismatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": true, "data": {"status": "success", "reference": "other", "amount": 500000}}`))
	}, time.Second)

	v, err := client.Verify(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.False(t, v.Success)
}

func TestVerifyUnknownReference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status": false, "message": "Transaction reference not found"}`))
	}, time.Second)

	v, err := client.Verify(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, v.Success)
	assert.Equal(t, "Transaction reference not found", v.GatewayResponse)
}

func TestVerifyFailsClosed(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"throttled": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": true, "data": {"status": "succ`))
		},
		"success without amount": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": true, "data": {"status": "success", "reference": "ref-1"}}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler, time.Second)
			v, err := client.Verify(context.Background(), "ref-1")
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.False(t, v.Success)
		})
	}
}

func TestVerifyTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, 50*time.Millisecond)

	_, err := client.Verify(context.Background(), "ref-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseWebhookEvent(t *testing.T) {
	event, err := ParseWebhookEvent([]byte(`{"event":"charge.success","data":{"reference":"ref-1","metadata":{"userId":"u1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventChargeSuccess, event.Event)
	assert.Equal(t, "ref-1", event.Reference)
	assert.Equal(t, "u1", event.Metadata["userId"])

	_, err = ParseWebhookEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
	_, err = ParseWebhookEvent([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

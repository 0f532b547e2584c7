// Package payments talks to the payment gateway's server-to-server API.
// Any ambiguous answer (timeout, 5xx, malformed body) is reported as
// ErrUnavailable and must never be read as a successful payment.
package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"plantscan/api/internal/config"
)

const maxResponseBytes = 1 << 20

var ErrUnavailable = errors.New("payment gateway unavailable")

// Verification is the gateway's verdict on one payment reference.
type Verification struct {
	Reference       string
	Success         bool
	Status          string
	Amount          int64
	Currency        string
	PaidAt          time.Time
	GatewayResponse string
	Metadata        map[string]string
}

type Client struct {
	baseURL    string
	secretKey  string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg config.PaymentsConfig, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		timeout:    cfg.Timeout,
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify asks the gateway whether reference was paid.
func (c *Client) Verify(ctx context.Context, reference string) (Verification, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Verification{}, fmt.Errorf("%w: throttled: %v", ErrUnavailable, err)
	}

	endpoint := c.baseURL + "/transaction/verify/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Verification{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verification{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Verification{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return Verification{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Verification{
			Reference:       reference,
			Status:          "rejected",
			GatewayResponse: gjson.GetBytes(body, "message").String(),
		}, nil
	}
	if !gjson.ValidBytes(body) {
		return Verification{}, fmt.Errorf("%w: malformed response", ErrUnavailable)
	}

	return parseVerification(reference, gjson.ParseBytes(body))
}

func parseVerification(reference string, doc gjson.Result) (Verification, error) {
	data := doc.Get("data")
	v := Verification{
		Reference:       reference,
		Status:          data.Get("status").String(),
		Currency:        strings.ToUpper(data.Get("currency").String()),
		GatewayResponse: data.Get("gateway_response").String(),
		Metadata:        stringMap(data.Get("metadata")),
	}

	if !doc.Get("status").Bool() || v.Status != "success" {
		return v, nil
	}

	amount := data.Get("amount")
	if amount.Type != gjson.Number {
		return Verification{}, fmt.Errorf("%w: success without amount", ErrUnavailable)
	}
	v.Amount = amount.Int()

	if paidAt := data.Get("paid_at").String(); paidAt != "" {
		if t, err := time.Parse(time.RFC3339, paidAt); err == nil {
			v.PaidAt = t
		}
	}

	// The gateway must echo the reference it verified.
	if got := data.Get("reference").String(); got != "" && got != reference {
		v.Status = "reference_mismatch"
		return v, nil
	}

	v.Success = true
	return v, nil
}

func stringMap(obj gjson.Result) map[string]string {
	if !obj.IsObject() {
		return nil
	}
	out := make(map[string]string)
	obj.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	return out
}

package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"plantscan/api/internal/config"
)

// DefaultSendTimeout bounds a single Postmark request.
const DefaultSendTimeout = 10 * time.Second

type PostmarkClient struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
	sendTimeout time.Duration
}

type Option func(*PostmarkClient)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *PostmarkClient) {
		cl.httpClient = c
	}
}

// WithSendTimeout overrides DefaultSendTimeout. Zero leaves requests bounded
// only by the caller's context.
func WithSendTimeout(d time.Duration) Option {
	return func(cl *PostmarkClient) {
		cl.sendTimeout = d
	}
}

func NewPostmarkClient(serverToken, fromEmail, baseURL string, opts ...Option) *PostmarkClient {
	c := &PostmarkClient{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: DefaultSendTimeout},
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *PostmarkClient) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

func (c *PostmarkClient) Send(ctx context.Context, msg Message) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	body, err := json.Marshal(postmarkEmail{
		From:     c.fromEmail,
		To:       msg.To,
		Subject:  msg.Subject,
		HtmlBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	if c.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sendTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	return nil
}

// FromConfig returns the Postmark client when a server token is set and a
// LogMailer otherwise.
func FromConfig(cfg config.MailConfig, logger zerolog.Logger) Mailer {
	client := NewPostmarkClient(cfg.PostmarkToken, cfg.From, cfg.BaseURL)
	if !client.Configured() {
		logger.Warn().Msg("postmark token not set, mail is logged instead of sent")
		return NewLogMailer(logger)
	}
	return client
}

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"plantscan/api/internal/mail"
	"plantscan/api/internal/models"
)

// Processor turns outbound tasks into mail.
type Processor struct {
	logger zerolog.Logger
	mailer mail.Mailer
}

func NewProcessor(logger zerolog.Logger, mailer mail.Mailer) *Processor {
	return &Processor{
		logger: logger,
		mailer: mailer,
	}
}

// Handle decodes a stream message and processes it. Unknown task types are
// logged and acknowledged.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	task, err := TaskFromValues(msg.Values)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return p.Process(ctx, task)
}

func (p *Processor) Process(ctx context.Context, task Task) error {
	switch task.Type {
	case TypePasswordReset:
		return p.handlePasswordReset(ctx, task.Payload)
	case TypeSubscriptionReceipt:
		return p.handleSubscriptionReceipt(ctx, task.Payload)
	default:
		p.logger.Warn().Str("type", task.Type).Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handlePasswordReset(ctx context.Context, raw json.RawMessage) error {
	var payload PasswordReset
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode password reset: %w", err)
	}
	msg := mail.PasswordResetMessage(payload.Email, payload.Link, time.Duration(payload.TTLMinutes)*time.Minute)
	if err := p.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	p.logger.Info().Str("type", TypePasswordReset).Msg("mail sent")
	return nil
}

func (p *Processor) handleSubscriptionReceipt(ctx context.Context, raw json.RawMessage) error {
	var payload SubscriptionReceipt
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode subscription receipt: %w", err)
	}
	msg := mail.SubscriptionReceiptMessage(payload.Email, payload.PlanType, payload.BillingCycle,
		payload.Amount, payload.Currency, payload.EndDate)
	if err := p.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send subscription receipt: %w", err)
	}
	p.logger.Info().Str("type", TypeSubscriptionReceipt).Msg("mail sent")
	return nil
}

// InlineNotifier stands in for the stream publisher when redis is not
// configured. Password reset mail is sent in the background so the caller
// returns in the same time whether or not a mail goes out. Receipts are sent
// in the calling goroutine.
type InlineNotifier struct {
	processor   *Processor
	sendTimeout time.Duration
	wg          sync.WaitGroup
}

// DefaultInlineSendTimeout bounds a background send.
const DefaultInlineSendTimeout = 30 * time.Second

func NewInlineNotifier(processor *Processor) *InlineNotifier {
	return &InlineNotifier{processor: processor, sendTimeout: DefaultInlineSendTimeout}
}

func (n *InlineNotifier) NotifyPasswordReset(_ context.Context, email, link string, ttl time.Duration) error {
	task, err := NewPasswordResetTask(email, link, ttl)
	if err != nil {
		return err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
		defer cancel()
		if err := n.processor.Process(ctx, task); err != nil {
			n.processor.logger.Error().Err(err).Str("type", task.Type).Msg("inline mail failed")
		}
	}()
	return nil
}

func (n *InlineNotifier) NotifySubscriptionActivated(ctx context.Context, email string, sub models.Subscription) error {
	task, err := NewSubscriptionReceiptTask(email, sub)
	if err != nil {
		return err
	}
	return n.processor.Process(ctx, task)
}

// Wait blocks until background sends finish or ctx is done.
func (n *InlineNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

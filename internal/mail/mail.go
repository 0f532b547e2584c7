package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of delivering them. It is
// used when no mail provider is configured.
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("mail delivery disabled, message dropped")
	return nil
}

func PasswordResetMessage(to, link string, ttl time.Duration) Message {
	minutes := int(ttl.Minutes())
	return Message{
		To:      to,
		Subject: "Reset your PlantScan password",
		TextBody: fmt.Sprintf(
			"Someone asked to reset the password for this account.\n\nOpen the link below to choose a new one:\n\n%s\n\nThis link expires in %d minutes. If you did not ask for this, ignore this email.",
			link, minutes,
		),
		HTMLBody: fmt.Sprintf(
			`<p>Someone asked to reset the password for this account.</p><p><a href="%s">Choose a new password</a></p><p>This link expires in %d minutes. If you did not ask for this, ignore this email.</p>`,
			link, minutes,
		),
	}
}

func SubscriptionReceiptMessage(to, plan, cycle string, amount int64, currency string, endDate time.Time) Message {
	price := fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
	until := endDate.UTC().Format("2 January 2006")
	return Message{
		To:      to,
		Subject: "Your PlantScan subscription is active",
		TextBody: fmt.Sprintf(
			"Thanks for subscribing to PlantScan %s (%s).\n\nAmount paid: %s\nActive until: %s\n",
			plan, cycle, price, until,
		),
		HTMLBody: fmt.Sprintf(
			`<p>Thanks for subscribing to PlantScan %s (%s).</p><p>Amount paid: %s<br>Active until: %s</p>`,
			plan, cycle, price, until,
		),
	}
}

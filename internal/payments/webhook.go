package payments

import (
	"errors"

	"github.com/tidwall/gjson"
)

const EventChargeSuccess = "charge.success"

var ErrMalformedEvent = errors.New("malformed webhook event")

// WebhookEvent is the subset of a gateway event the API acts on. The event
// body is only a hint; the reference is always re-verified before use.
type WebhookEvent struct {
	Event     string
	Reference string
	Metadata  map[string]string
}

func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	if !gjson.ValidBytes(body) {
		return WebhookEvent{}, ErrMalformedEvent
	}
	doc := gjson.ParseBytes(body)
	event := WebhookEvent{
		Event:     doc.Get("event").String(),
		Reference: doc.Get("data.reference").String(),
		Metadata:  stringMap(doc.Get("data.metadata")),
	}
	if event.Event == "" {
		return WebhookEvent{}, ErrMalformedEvent
	}
	return event, nil
}

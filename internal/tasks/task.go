package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"plantscan/api/internal/models"
)

const (
	TypePasswordReset       = "password_reset"
	TypeSubscriptionReceipt = "subscription_receipt"
)

// Task is the envelope carried on the outbound mail stream.
type Task struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type PasswordReset struct {
	Email      string `json:"email"`
	Link       string `json:"link"`
	TTLMinutes int    `json:"ttlMinutes"`
}

type SubscriptionReceipt struct {
	Email        string    `json:"email"`
	PlanType     string    `json:"planType"`
	BillingCycle string    `json:"billingCycle"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	EndDate      time.Time `json:"endDate"`
}

func NewPasswordResetTask(email, link string, ttl time.Duration) (Task, error) {
	return newTask(TypePasswordReset, PasswordReset{
		Email:      email,
		Link:       link,
		TTLMinutes: int(ttl.Minutes()),
	})
}

func NewSubscriptionReceiptTask(email string, sub models.Subscription) (Task, error) {
	return newTask(TypeSubscriptionReceipt, SubscriptionReceipt{
		Email:        email,
		PlanType:     string(sub.PlanType),
		BillingCycle: string(sub.BillingCycle),
		Amount:       sub.Amount,
		Currency:     sub.Currency,
		EndDate:      sub.EndDate,
	})
}

func newTask(taskType string, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s task: %w", taskType, err)
	}
	return Task{Type: taskType, Payload: raw}, nil
}

// Values flattens the task into stream fields.
func (t Task) Values() map[string]interface{} {
	return map[string]interface{}{
		"type":    t.Type,
		"payload": string(t.Payload),
	}
}

// TaskFromValues is the inverse of Values.
func TaskFromValues(values map[string]interface{}) (Task, error) {
	taskType, _ := values["type"].(string)
	payload, _ := values["payload"].(string)
	if taskType == "" {
		return Task{}, fmt.Errorf("task type missing")
	}
	if !json.Valid([]byte(payload)) {
		return Task{}, fmt.Errorf("task %s: invalid payload", taskType)
	}
	return Task{Type: taskType, Payload: json.RawMessage(payload)}, nil
}

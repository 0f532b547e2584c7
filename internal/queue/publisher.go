package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"plantscan/api/internal/models"
	"plantscan/api/internal/tasks"
)

const streamMaxLen = 10000

// Publisher appends outbound tasks to the mail stream for cmd/worker.
type Publisher struct {
	client *redis.Client
	stream string
}

func NewPublisher(client *redis.Client, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

func (p *Publisher) Publish(ctx context.Context, task tasks.Task) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: task.Values(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", task.Type, err)
	}
	return id, nil
}

func (p *Publisher) NotifyPasswordReset(ctx context.Context, email, link string, ttl time.Duration) error {
	task, err := tasks.NewPasswordResetTask(email, link, ttl)
	if err != nil {
		return err
	}
	_, err = p.Publish(ctx, task)
	return err
}

func (p *Publisher) NotifySubscriptionActivated(ctx context.Context, email string, sub models.Subscription) error {
	task, err := tasks.NewSubscriptionReceiptTask(email, sub)
	if err != nil {
		return err
	}
	_, err = p.Publish(ctx, task)
	return err
}

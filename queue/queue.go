// Package queue delivers outbound mail through a Redis list, or in process
// when Redis is not configured.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/dinein/utils"
)

const (
	// QueueMail is the Redis list key for mail jobs.
	QueueMail = "dinein:mail"
	// QueueDLQ holds mail jobs that failed MaxAttempts times.
	QueueDLQ = "dinein:mail:dlq"
	// MaxAttempts is the number of deliveries tried before a job is dead-lettered.
	MaxAttempts = 3
	// RetryBackoff is the pause after a failed delivery.
	RetryBackoff = 5 * time.Second
)

// Job references a stored notification.
type Job struct {
	ID             string    `json:"id"`
	NotificationID uint      `json:"notification_id"`
	Attempt        int       `json:"attempt"`
	CreatedAt      time.Time `json:"created_at"`
}

// MailQueue enqueues and dequeues mail jobs via Redis.
type MailQueue struct {
	client *redis.Client
	wait   time.Duration
}

func NewMailQueue(client *redis.Client) *MailQueue {
	return &MailQueue{client: client, wait: 5 * time.Second}
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Enqueue pushes a job for notificationID.
func (q *MailQueue) Enqueue(ctx context.Context, notificationID uint) error {
	job := Job{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		CreatedAt:      time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueMail, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"job_id":          job.ID,
		"notification_id": notificationID,
	}).Debug("mail job enqueued")
	return nil
}

// Dequeue waits a bounded time for a job. It returns nil, nil when the wait
// ends empty or the payload is unreadable.
func (q *MailQueue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, q.wait, QueueMail).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		utils.ErrorLogger.WithField("raw", result[1]).Errorf("invalid mail job: %v", err)
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues job with its attempt counted, or dead-letters it once
// MaxAttempts is reached. It reports whether the job was dead-lettered.
func (q *MailQueue) Retry(ctx context.Context, job *Job) (bool, error) {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if job.Attempt >= MaxAttempts {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			return false, err
		}
		utils.InfoLogger.WithFields(logrus.Fields{
			"job_id":  job.ID,
			"attempt": job.Attempt,
		}).Warn("mail job moved to dead-letter queue")
		return true, nil
	}
	return false, q.client.RPush(ctx, QueueMail, raw).Err()
}

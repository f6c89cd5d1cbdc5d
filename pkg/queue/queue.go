package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueNotifications is the Redis list key for customer notification jobs.
	QueueNotifications = "worker:notifications"
	// QueueAnalytics is the Redis list key for analytics recompute jobs.
	QueueAnalytics = "worker:analytics"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PollTimeout bounds one blocking pop so the worker loop can observe cancellation.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeNotification       JobType = "notification"
	JobTypeAnalyticsRecompute JobType = "analytics_recompute"
)

// NotificationPayload is the payload for notification jobs. LogID is set when resending an existing log.
type NotificationPayload struct {
	NotificationType string     `json:"notification_type"`
	Channel          string     `json:"channel"`
	BusinessID       uuid.UUID  `json:"business_id"`
	CustomerID       *uuid.UUID `json:"customer_id,omitempty"`
	ClaimID          *uuid.UUID `json:"claim_id,omitempty"`
	Recipient        string     `json:"recipient"`
	Subject          string     `json:"subject"`
	Body             string     `json:"body"`
	LogID            *uuid.UUID `json:"log_id,omitempty"`
}

// AnalyticsPayload is the payload for analytics recompute jobs.
type AnalyticsPayload struct {
	BusinessID uuid.UUID `json:"business_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func newJob(queueName string, jobType JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Queue:     queueName,
		Payload:   body,
		CreatedAt: time.Now(),
	}, nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// EnqueueNotification enqueues a notification job.
func (q *Queue) EnqueueNotification(ctx context.Context, payload NotificationPayload) error {
	job, err := newJob(QueueNotifications, JobTypeNotification, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueueNotifications, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued notification job", zap.String("job_id", job.ID), zap.String("notification_type", payload.NotificationType))
	return nil
}

// EnqueueAnalyticsRecompute enqueues a rollup rebuild for one business.
func (q *Queue) EnqueueAnalyticsRecompute(ctx context.Context, payload AnalyticsPayload) error {
	job, err := newJob(QueueAnalytics, JobTypeAnalyticsRecompute, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueueAnalytics, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued analytics job", zap.String("job_id", job.ID), zap.String("business_id", payload.BusinessID.String()))
	return nil
}

// Dequeue blocks up to PollTimeout for a job on any work queue. A nil job with nil error means none arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueueNotifications, QueueAnalytics).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	job, err := decodeJob(result[0], result[1])
	if err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return job, result[0], nil
}

func decodeJob(key, raw string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, err
	}
	if job.Queue == "" {
		job.Queue = key
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	target := retryTarget(job)
	if err := q.push(ctx, target, job); err != nil {
		q.logger.Error("retry push failed", zap.Error(err), zap.String("job_id", job.ID), zap.String("queue", target))
		return err
	}
	if target == QueueDLQ {
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

func retryTarget(job *Job) string {
	if job.Attempt >= MaxRetries || job.Queue == "" {
		return QueueDLQ
	}
	return job.Queue
}

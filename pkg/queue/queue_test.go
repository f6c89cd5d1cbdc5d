package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	businessID := uuid.New()
	job, err := newJob(QueueAnalytics, JobTypeAnalyticsRecompute, AnalyticsPayload{BusinessID: businessID})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, QueueAnalytics, job.Queue)
	assert.Zero(t, job.Attempt)

	var p AnalyticsPayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, businessID, p.BusinessID)
}

func TestDecodeJobFillsQueue(t *testing.T) {
	job, err := decodeJob(QueueNotifications, `{"id":"1","type":"notification","payload":{}}`)
	require.NoError(t, err)
	assert.Equal(t, QueueNotifications, job.Queue)

	_, err = decodeJob(QueueNotifications, "not json")
	assert.Error(t, err)
}

func TestRetryTarget(t *testing.T) {
	job := &Job{Queue: QueueNotifications, Attempt: 1}
	assert.Equal(t, QueueNotifications, retryTarget(job))

	job.Attempt = MaxRetries
	assert.Equal(t, QueueDLQ, retryTarget(job))

	assert.Equal(t, QueueDLQ, retryTarget(&Job{Attempt: 1}))
}

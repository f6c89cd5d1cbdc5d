package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnvelope(t *testing.T) {
	businessID := uuid.New()
	raw, err := encode(TypeVoucherRedeemed, businessID, map[string]string{"referenceNumber": "R1"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, TypeVoucherRedeemed, env.Type)
	assert.Equal(t, businessID, env.BusinessID)
	assert.JSONEq(t, `{"referenceNumber":"R1"}`, string(env.Data))
	assert.NotEmpty(t, env.ID)
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "coupons.", nil)
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), TypeVoucherClaimed, uuid.New(), nil))
	assert.NoError(t, p.Close())
}

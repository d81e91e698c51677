package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-service/internal/entity"
)

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestPublishOrderEvent(t *testing.T) {
	w := &recordingWriter{}
	p := &Publisher{writer: w}

	order := &entity.Order{
		ID:            42,
		OrderNumber:   "202610160001",
		UserID:        7,
		Status:        entity.OrderStatusProcessing,
		PaymentStatus: entity.PaymentStatusPaid,
		Total:         decimal.RequireFromString("64.40"),
	}
	require.NoError(t, p.PublishOrderEvent(context.Background(), order, OrderPaid))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-paid-42", string(w.msgs[0].Key))

	var got OrderEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, OrderPaid, got.Event)
	assert.Equal(t, "202610160001", got.OrderNumber)
	assert.Equal(t, entity.PaymentStatusPaid, got.PaymentStatus)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("64.40")))
}

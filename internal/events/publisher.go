package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"checkout-service/internal/entity"
)

const (
	OrderCreated   = "created"
	OrderPaid      = "paid"
	OrderCancelled = "cancelled"
	OrderRefunded  = "refunded"
	OrderStatus    = "status-changed"
	PaymentFailed  = "payment-failed"
)

// OrderEvent is the message value published for every order state change.
type OrderEvent struct {
	Event         string               `json:"event"`
	OrderID       int                  `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	UserID        int                  `json:"user_id"`
	Status        entity.OrderStatus   `json:"status"`
	PaymentStatus entity.PaymentStatus `json:"payment_status"`
	Total         decimal.Decimal      `json:"total"`
	Items         []entity.OrderItem   `json:"items,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	writer messageWriter
}

func NewPublisher(writer *kafka.Writer) *Publisher {
	return &Publisher{writer: writer}
}

// PublishOrderEvent writes the order under key "order-{event}-{id}".
func (p *Publisher) PublishOrderEvent(ctx context.Context, order *entity.Order, event string) error {
	value, err := json.Marshal(OrderEvent{
		Event:         event,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Total:         order.Total,
		Items:         order.Items,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	// order-created-1 or order-paid-1
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("order-%s-%d", event, order.ID)),
		Value: value,
	}
	return p.writer.WriteMessages(ctx, msg)
}

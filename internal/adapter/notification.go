package adapter

import (
	"context"
	"encoding/json"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/httpclient"
)

// NotificationAdapter sends the order confirmation. Notifications cannot be
// unsent, so Compensate is a no-op; a duplicate confirmation email after a
// conflict merge is accepted rather than compensated.
type NotificationAdapter struct {
	ds downstream
}

func NewNotificationAdapter(client *httpclient.CircuitBreakerClient, baseURL string) *NotificationAdapter {
	return &NotificationAdapter{ds: newDownstream(client, baseURL, "notification")}
}

func (a *NotificationAdapter) Step() domain.Step {
	return domain.StepNotifyCustomer
}

type notifyRequest struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Type       string `json:"type"`
}

func (a *NotificationAdapter) Execute(ctx context.Context, order *domain.Order) (json.RawMessage, error) {
	req := notifyRequest{OrderID: order.ID, CustomerID: order.CustomerID, Type: "order_confirmation"}
	return a.ds.post(ctx, "/api/v1/notifications", IdempotencyKey(order.ID, a.Step()), req)
}

func (a *NotificationAdapter) Compensate(context.Context, *domain.Order, domain.StepRecord) error {
	return nil
}

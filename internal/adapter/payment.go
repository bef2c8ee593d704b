package adapter

import (
	"context"
	"encoding/json"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/httpclient"
)

// PaymentAdapter charges the customer and refunds the charge on compensation.
// Its forward call is the one the system may never duplicate; it is always
// wired behind the side-effect ledger and the downstream idempotency key.
type PaymentAdapter struct {
	ds downstream
}

func NewPaymentAdapter(client *httpclient.CircuitBreakerClient, baseURL string) *PaymentAdapter {
	return &PaymentAdapter{ds: newDownstream(client, baseURL, "payment")}
}

func (a *PaymentAdapter) Step() domain.Step {
	return domain.StepChargePayment
}

type chargeRequest struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
}

type chargeResult struct {
	ChargeID string `json:"charge_id"`
}

func (a *PaymentAdapter) Execute(ctx context.Context, order *domain.Order) (json.RawMessage, error) {
	req := chargeRequest{OrderID: order.ID, CustomerID: order.CustomerID, Amount: order.TotalAmount}
	return a.ds.post(ctx, "/api/v1/charges", IdempotencyKey(order.ID, a.Step()), req)
}

func (a *PaymentAdapter) Compensate(ctx context.Context, order *domain.Order, prior domain.StepRecord) error {
	var res chargeResult
	_ = json.Unmarshal(prior.Data, &res)

	_, err := a.ds.post(ctx, "/api/v1/refunds", CompensationKey(order.ID, a.Step(), prior.Data), map[string]any{
		"order_id":  order.ID,
		"charge_id": res.ChargeID,
		"amount":    order.TotalAmount,
	})
	return err
}

package adapter

import (
	"context"
	"encoding/json"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/httpclient"
)

// InventoryAdapter reserves stock for an order and releases the reservation
// on compensation.
type InventoryAdapter struct {
	ds downstream
}

func NewInventoryAdapter(client *httpclient.CircuitBreakerClient, baseURL string) *InventoryAdapter {
	return &InventoryAdapter{ds: newDownstream(client, baseURL, "inventory")}
}

func (a *InventoryAdapter) Step() domain.Step {
	return domain.StepReserveInventory
}

type reserveRequest struct {
	OrderID string            `json:"order_id"`
	Items   []reserveLineItem `json:"items"`
}

type reserveLineItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type reservationResult struct {
	ReservationID string `json:"reservation_id"`
}

func (a *InventoryAdapter) Execute(ctx context.Context, order *domain.Order) (json.RawMessage, error) {
	req := reserveRequest{OrderID: order.ID, Items: make([]reserveLineItem, 0, len(order.Items))}
	for _, item := range order.Items {
		req.Items = append(req.Items, reserveLineItem{SKU: item.SKU, Quantity: item.Quantity})
	}
	return a.ds.post(ctx, "/api/v1/reservations", IdempotencyKey(order.ID, a.Step()), req)
}

func (a *InventoryAdapter) Compensate(ctx context.Context, order *domain.Order, prior domain.StepRecord) error {
	var res reservationResult
	// Data may be missing when releasing an orphaned replica record; the
	// service can resolve the reservation by order id alone.
	_ = json.Unmarshal(prior.Data, &res)

	_, err := a.ds.post(ctx, "/api/v1/reservations/release", CompensationKey(order.ID, a.Step(), prior.Data), map[string]string{
		"order_id":       order.ID,
		"reservation_id": res.ReservationID,
	})
	return err
}

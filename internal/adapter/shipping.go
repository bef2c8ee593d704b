package adapter

import (
	"context"
	"encoding/json"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/httpclient"
)

// ShippingAdapter books a shipment and cancels it on compensation.
type ShippingAdapter struct {
	ds downstream
}

func NewShippingAdapter(client *httpclient.CircuitBreakerClient, baseURL string) *ShippingAdapter {
	return &ShippingAdapter{ds: newDownstream(client, baseURL, "shipping")}
}

func (a *ShippingAdapter) Step() domain.Step {
	return domain.StepArrangeShipping
}

type shipmentRequest struct {
	OrderID    string             `json:"order_id"`
	CustomerID string             `json:"customer_id"`
	Items      []shipmentLineItem `json:"items"`
}

type shipmentLineItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type shipmentResult struct {
	ShipmentID string `json:"shipment_id"`
}

func (a *ShippingAdapter) Execute(ctx context.Context, order *domain.Order) (json.RawMessage, error) {
	req := shipmentRequest{OrderID: order.ID, CustomerID: order.CustomerID, Items: make([]shipmentLineItem, 0, len(order.Items))}
	for _, item := range order.Items {
		req.Items = append(req.Items, shipmentLineItem{SKU: item.SKU, Quantity: item.Quantity})
	}
	return a.ds.post(ctx, "/api/v1/shipments", IdempotencyKey(order.ID, a.Step()), req)
}

func (a *ShippingAdapter) Compensate(ctx context.Context, order *domain.Order, prior domain.StepRecord) error {
	var res shipmentResult
	_ = json.Unmarshal(prior.Data, &res)

	_, err := a.ds.post(ctx, "/api/v1/shipments/cancel", CompensationKey(order.ID, a.Step(), prior.Data), map[string]string{
		"order_id":    order.ID,
		"shipment_id": res.ShipmentID,
	})
	return err
}

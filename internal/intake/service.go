package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/event"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/store"
	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/validator"
)

// SubmitItem is one line of a submission.
type SubmitItem struct {
	SKU       string `json:"sku" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
}

// SubmitInput holds the parameters for submitting an order. IdempotencyKey
// is optional; when present, resubmissions with the same key collapse onto
// the original order instead of minting a new one.
type SubmitInput struct {
	CustomerID     string       `json:"customer_id" validate:"required"`
	Items          []SubmitItem `json:"items" validate:"required,min=1,dive"`
	IdempotencyKey string       `json:"-"`
}

// Service implements order intake on top of the replicated store. The store's
// create-if-absent semantics carry the idempotency guarantee; the service
// only has to derive ids deterministically.
type Service struct {
	store    store.OrderStore
	producer *event.Producer
	seq      *Sequencer
	region   string
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(st store.OrderStore, producer *event.Producer, seq *Sequencer, region string, log *slog.Logger) *Service {
	return &Service{
		store:    st,
		producer: producer,
		seq:      seq,
		region:   region,
		logger:   log,
		now:      time.Now,
	}
}

// Submit validates and creates an order. created is false when an earlier
// submission with the same idempotency key already created the record; the
// existing order is returned unchanged and no event is published.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*domain.Order, bool, error) {
	if err := validator.Validate(input); err != nil {
		return nil, false, err
	}

	var orderID string
	if input.IdempotencyKey != "" {
		orderID = DeterministicOrderID(input.IdempotencyKey)
	} else {
		orderID = s.seq.Next()
	}

	items := make([]domain.OrderItem, len(input.Items))
	for i, item := range input.Items {
		items[i] = domain.OrderItem{SKU: item.SKU, Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}

	order := domain.NewOrder(orderID, input.CustomerID, s.region, items, s.now().UTC())

	stored, created, err := s.store.Create(ctx, order)
	if err != nil {
		return nil, false, fmt.Errorf("create order: %w", err)
	}
	if !created {
		s.logger.InfoContext(ctx, "duplicate submission collapsed",
			slog.String("order_id", stored.ID),
			slog.String("customer_id", input.CustomerID),
		)
		return stored, false, nil
	}

	if err := s.producer.OrderCreated(ctx, stored); err != nil {
		s.logger.ErrorContext(ctx, "order created event publish failed",
			slog.String("order_id", stored.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order accepted",
		slog.String("order_id", stored.ID),
		slog.String("customer_id", stored.CustomerID),
		slog.Int64("total_amount", stored.TotalAmount),
	)
	return stored, true, nil
}

// Get retrieves an order by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// List returns a customer's orders, newest first.
func (s *Service) List(ctx context.Context, customerID string, limit, offset int) ([]*domain.Order, int, error) {
	if customerID == "" {
		return nil, 0, apperrors.InvalidInput("customer_id is required")
	}
	orders, total, err := s.store.ListByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// Cancel requests cancellation. A terminal order cannot be canceled. For
// anything in flight the order flips into compensating: steps that already
// ran, including a captured payment, are unwound by the saga worker rather
// than reversed inline here.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*domain.Order, error) {
	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order for cancel: %w", err)
	}

	if order.IsTerminal() {
		return nil, apperrors.Conflict(fmt.Sprintf("order is already %s", order.Status))
	}
	if order.IsCompensating() {
		return order, nil
	}

	if reason == "" {
		reason = "canceled by customer"
	}
	order.Status = domain.StatusCompensating
	order.FailureReason = "canceled: " + reason

	updated, err := s.store.Update(ctx, order, order.Version)
	if errors.Is(err, apperrors.ErrVersionConflict) {
		return nil, apperrors.Conflict("order changed concurrently, retry the cancellation")
	}
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	if err := s.producer.CompensationTriggered(ctx, updated, updated.FailureReason); err != nil {
		s.logger.ErrorContext(ctx, "cancellation event publish failed",
			slog.String("order_id", updated.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order cancellation accepted",
		slog.String("order_id", updated.ID),
		slog.String("reason", reason),
	)
	return updated, nil
}

package domain

import (
	"time"
)

// Order status constants. The forward path walks created -> reserving_inventory
// -> charging_payment -> arranging_shipping -> notifying -> completed; the
// compensation path (compensating -> failed) is reachable from any
// non-terminal status. failed_needs_operator marks a compensation that
// exhausted its retry budget and was handed to the dead-letter channel.
const (
	StatusCreated             = "created"
	StatusReservingInventory  = "reserving_inventory"
	StatusChargingPayment     = "charging_payment"
	StatusArrangingShipping   = "arranging_shipping"
	StatusNotifying           = "notifying"
	StatusCompleted           = "completed"
	StatusCompensating        = "compensating"
	StatusFailed              = "failed"
	StatusFailedNeedsOperator = "failed_needs_operator"
)

// StatusForStep maps a saga step to the in-flight order status entered when
// that step begins executing.
func StatusForStep(s Step) string {
	switch s {
	case StepReserveInventory:
		return StatusReservingInventory
	case StepChargePayment:
		return StatusChargingPayment
	case StepArrangeShipping:
		return StatusArrangingShipping
	case StepNotifyCustomer:
		return StatusNotifying
	default:
		return StatusCreated
	}
}

// OrderItem is a single line of an order.
type OrderItem struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"` // minor currency units
}

// Order is the root entity. It is owned by the saga orchestrator and mutated
// only through version-checked conditional writes; the lease fields live on
// the record itself so no separate locking subsystem is needed.
type Order struct {
	ID            string      `json:"id"`
	CustomerID    string      `json:"customer_id"`
	Items         []OrderItem `json:"items"`
	TotalAmount   int64       `json:"total_amount"`
	Status        string      `json:"status"`
	OriginRegion  string      `json:"origin_region"`
	Version       int64       `json:"version"`
	Saga          SagaState   `json:"saga"`
	LeaseOwner    string      `json:"lease_owner,omitempty"`
	LeaseExpires  time.Time   `json:"lease_expires,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewOrder builds an order in its initial state. The caller supplies the
// identity; TotalAmount is derived from the items.
func NewOrder(id, customerID, region string, items []OrderItem, now time.Time) *Order {
	o := &Order{
		ID:           id,
		CustomerID:   customerID,
		Items:        items,
		Status:       StatusCreated,
		OriginRegion: region,
		Version:      1,
		Saga:         NewSagaState(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	o.TotalAmount = o.ComputeTotal()
	return o
}

// ComputeTotal sums quantity * unit price across all items.
func (o *Order) ComputeTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.Quantity) * item.UnitPrice
	}
	return total
}

// IsTerminal reports whether the order reached a final status.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusCompleted, StatusFailed, StatusFailedNeedsOperator:
		return true
	}
	return false
}

// IsCompensating reports whether the order is on the rollback path.
func (o *Order) IsCompensating() bool {
	return o.Status == StatusCompensating
}

// CanCancel reports whether an immediate cancellation is still permitted.
// Once payment has been charged the monetary side effect exists externally,
// so cancellation becomes a compensation trigger instead.
func (o *Order) CanCancel() bool {
	return !o.IsTerminal() && !o.Saga.Completed(StepChargePayment)
}

// LeaseHeldBy reports whether owner currently holds a live lease on the order.
func (o *Order) LeaseHeldBy(owner string, now time.Time) bool {
	return o.LeaseOwner == owner && now.Before(o.LeaseExpires)
}

// LeaseAvailable reports whether the lease is free or expired at now.
func (o *Order) LeaseAvailable(now time.Time) bool {
	return o.LeaseOwner == "" || !now.Before(o.LeaseExpires)
}

// ProgressRank orders concurrent replicas of the same order by forward
// progress for deterministic conflict resolution. Higher rank wins. A
// completed order outranks every in-flight state; the failed family ranks
// by how far the saga got before unwinding.
func (o *Order) ProgressRank() int {
	if o.Status == StatusCompleted {
		return len(Steps()) + 1
	}
	return o.Saga.progressIndex()
}

// ValidStatuses returns the set of valid order statuses.
func ValidStatuses() []string {
	return []string{
		StatusCreated,
		StatusReservingInventory,
		StatusChargingPayment,
		StatusArrangingShipping,
		StatusNotifying,
		StatusCompleted,
		StatusCompensating,
		StatusFailed,
		StatusFailedNeedsOperator,
	}
}

// IsValidStatus checks whether the given status string is a valid order status.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the order. Stores hand out clones so callers
// never share mutable state with the store's own record.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	cp.Saga.CompletedSteps = make([]StepRecord, len(o.Saga.CompletedSteps))
	copy(cp.Saga.CompletedSteps, o.Saga.CompletedSteps)
	for i := range cp.Saga.CompletedSteps {
		if ts := cp.Saga.CompletedSteps[i].CompensatedAt; ts != nil {
			t := *ts
			cp.Saga.CompletedSteps[i].CompensatedAt = &t
		}
		if data := o.Saga.CompletedSteps[i].Data; data != nil {
			cp.Saga.CompletedSteps[i].Data = append([]byte(nil), data...)
		}
	}
	return &cp
}

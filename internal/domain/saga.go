package domain

import (
	"encoding/json"
	"time"
)

// Step identifies one forward step of the fulfillment saga.
type Step string

// Canonical saga steps, in execution order.
const (
	StepReserveInventory Step = "reserve_inventory"
	StepChargePayment    Step = "charge_payment"
	StepArrangeShipping  Step = "arrange_shipping"
	StepNotifyCustomer   Step = "notify_customer"
)

// Steps returns the canonical step ordering. Forward execution walks this
// slice left to right; compensation unwinds completed steps right to left.
func Steps() []Step {
	return []Step{StepReserveInventory, StepChargePayment, StepArrangeShipping, StepNotifyCustomer}
}

// Index returns the position of s in the canonical ordering, or -1 for an
// unknown step.
func (s Step) Index() int {
	for i, step := range Steps() {
		if step == s {
			return i
		}
	}
	return -1
}

// Next returns the step after s in canonical order. ok is false when s is
// the last step or unknown.
func (s Step) Next() (next Step, ok bool) {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(Steps()) {
		return "", false
	}
	return Steps()[idx+1], true
}

// Outcome classifies the result of one adapter call.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomePermanent Outcome = "permanent"
)

// StepRecord is the persisted result of one completed forward step, including
// the adapter response needed to compensate it later.
type StepRecord struct {
	Step          Step            `json:"step"`
	Data          json.RawMessage `json:"data,omitempty"`
	Attempts      int             `json:"attempts"`
	ExecutedAt    time.Time       `json:"executed_at"`
	Compensated   bool            `json:"compensated,omitempty"`
	CompensatedAt *time.Time      `json:"compensated_at,omitempty"`
}

// SagaState is embedded in the Order record. CompletedSteps is always a
// strict prefix of the canonical step ordering; compensation unwinds from
// the tail.
type SagaState struct {
	CurrentStep    Step         `json:"current_step"`
	CompletedSteps []StepRecord `json:"completed_steps"`
}

// NewSagaState returns the initial saga state positioned at the first step.
func NewSagaState() SagaState {
	return SagaState{CurrentStep: StepReserveInventory}
}

// Completed reports whether the given step has a completed record.
func (s *SagaState) Completed(step Step) bool {
	return s.Record(step) != nil
}

// Record returns the completed record for step, or nil.
func (s *SagaState) Record(step Step) *StepRecord {
	for i := range s.CompletedSteps {
		if s.CompletedSteps[i].Step == step {
			return &s.CompletedSteps[i]
		}
	}
	return nil
}

// Complete appends a record for the current step and advances CurrentStep.
// done is true when the appended step was the last forward step.
func (s *SagaState) Complete(rec StepRecord) (done bool) {
	s.CompletedSteps = append(s.CompletedSteps, rec)
	next, ok := rec.Step.Next()
	if !ok {
		return true
	}
	s.CurrentStep = next
	return false
}

// PendingCompensations returns the completed, not-yet-compensated steps in
// reverse completion order (LIFO).
func (s *SagaState) PendingCompensations() []StepRecord {
	out := make([]StepRecord, 0, len(s.CompletedSteps))
	for i := len(s.CompletedSteps) - 1; i >= 0; i-- {
		if !s.CompletedSteps[i].Compensated {
			out = append(out, s.CompletedSteps[i])
		}
	}
	return out
}

// MarkCompensated flags the record for step as compensated at the given time.
func (s *SagaState) MarkCompensated(step Step, at time.Time) {
	if rec := s.Record(step); rec != nil && !rec.Compensated {
		rec.Compensated = true
		rec.CompensatedAt = &at
	}
}

// progressIndex ranks forward progress for conflict resolution: the number
// of canonical steps this saga has completed, i.e. the index of CurrentStep
// once at least one step is recorded, len(Steps()) when all are done.
func (s *SagaState) progressIndex() int {
	return len(s.CompletedSteps)
}

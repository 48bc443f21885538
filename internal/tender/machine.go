// Package tender implements the payment-collection state machine that drives
// multi-method tender entry until an order total is covered. The machine is
// pure: transitions mutate only the struct, never the store, so the whole flow
// can be exercised without a database or UI harness and serialized mid-flight.
package tender

import (
	"errors"
	"fmt"

	"github.com/balcao-pos/api/internal/enum"
	"github.com/shopspring/decimal"
)

type State string

const (
	StateIdle             State = "IDLE"
	StateMethodSelected   State = "METHOD_SELECTED"
	StateAmountEntered    State = "AMOUNT_ENTERED"
	StateOverpayConfirm   State = "OVERPAY_CONFIRM"
	StateCommitted        State = "COMMITTED"
	StatePartialRemainder State = "PARTIAL_REMAINDER"
)

// Epsilon is the tolerance applied when comparing money totals.
var Epsilon = decimal.New(1, -2) // 0.01

var (
	ErrAmountNotPositive = errors.New("amount must be greater than zero")
	ErrNothingRemaining  = errors.New("order total is already covered")
	ErrNoSuchEntry       = errors.New("no such tender entry")
)

// TransitionError reports an operation invoked in a state that does not
// accept it.
type TransitionError struct {
	State State
	Op    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.State)
}

// Entry is one committed tender. Amount is the applied amount (already
// clamped to the remainder); Change is nonzero only for cash overpayments.
type Entry struct {
	Method     string          `json:"method"`
	MethodCode string          `json:"method_code"`
	Amount     decimal.Decimal `json:"amount"`
	Change     decimal.Decimal `json:"change"`
}

// Machine collects tenders against a fixed total. The zero value is not
// usable; construct with New.
type Machine struct {
	Total   decimal.Decimal `json:"total"`
	State   State           `json:"state"`
	Entries []Entry         `json:"entries"`

	// Pending input, meaningful from MethodSelected through OverpayConfirm.
	PendingMethod     string          `json:"pending_method,omitempty"`
	PendingMethodCode string          `json:"pending_method_code,omitempty"`
	PendingAmount     decimal.Decimal `json:"pending_amount"`
}

func New(total decimal.Decimal) *Machine {
	return &Machine{Total: total, State: StateIdle}
}

// Remaining is max(0, total - sum of applied amounts).
func (m *Machine) Remaining() decimal.Decimal {
	r := m.Total.Sub(m.Applied())
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Applied is the sum of committed amounts, change excluded.
func (m *Machine) Applied() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range m.Entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

// Covered reports whether the remainder is within Epsilon of zero.
func (m *Machine) Covered() bool {
	return m.Remaining().LessThanOrEqual(Epsilon)
}

// SelectMethod picks the method for the next tender. Rejected once the total
// is covered: a fully paid order takes no more tenders.
func (m *Machine) SelectMethod(method, methodCode string) error {
	switch m.State {
	case StateIdle, StateMethodSelected, StateAmountEntered, StatePartialRemainder:
	default:
		return &TransitionError{State: m.State, Op: "select method"}
	}
	if !m.Remaining().IsPositive() {
		return ErrNothingRemaining
	}
	m.PendingMethod = method
	m.PendingMethodCode = methodCode
	m.PendingAmount = decimal.Zero
	m.State = StateMethodSelected
	return nil
}

// EnterAmount records the tendered amount for the pending method. A
// non-positive amount is a validation error and does not transition.
func (m *Machine) EnterAmount(amount decimal.Decimal) error {
	switch m.State {
	case StateMethodSelected, StateAmountEntered:
	default:
		return &TransitionError{State: m.State, Op: "enter amount"}
	}
	if !amount.IsPositive() {
		return ErrAmountNotPositive
	}
	m.PendingAmount = amount
	m.State = StateAmountEntered
	return nil
}

// Commit applies the pending tender.
//
// Cash may exceed the remainder without confirmation: the applied amount is
// clamped and the excess becomes change. Any other method exceeding the
// remainder routes to OverpayConfirm instead of committing.
func (m *Machine) Commit() error {
	if m.State != StateAmountEntered {
		return &TransitionError{State: m.State, Op: "commit"}
	}

	remaining := m.Remaining()
	if m.PendingMethod == enum.PaymentMethodCash {
		applied := m.PendingAmount
		change := decimal.Zero
		if applied.GreaterThan(remaining) {
			change = applied.Sub(remaining)
			applied = remaining
		}
		m.append(Entry{
			Method:     m.PendingMethod,
			MethodCode: m.PendingMethodCode,
			Amount:     applied,
			Change:     change,
		})
		return nil
	}

	if m.PendingAmount.GreaterThan(remaining) {
		m.State = StateOverpayConfirm
		return nil
	}

	m.append(Entry{
		Method:     m.PendingMethod,
		MethodCode: m.PendingMethodCode,
		Amount:     m.PendingAmount,
		Change:     decimal.Zero,
	})
	return nil
}

// ConfirmOverpay accepts a non-cash overpayment: the applied amount is
// clamped to the remainder and the excess is discarded, never tracked.
func (m *Machine) ConfirmOverpay() error {
	if m.State != StateOverpayConfirm {
		return &TransitionError{State: m.State, Op: "confirm overpay"}
	}
	m.append(Entry{
		Method:     m.PendingMethod,
		MethodCode: m.PendingMethodCode,
		Amount:     m.Remaining(),
		Change:     decimal.Zero,
	})
	return nil
}

// CancelOverpay returns to AmountEntered with the original input preserved so
// the operator can correct it.
func (m *Machine) CancelOverpay() error {
	if m.State != StateOverpayConfirm {
		return &TransitionError{State: m.State, Op: "cancel overpay"}
	}
	m.State = StateAmountEntered
	return nil
}

// AddAnother resumes tender entry after a partial commit.
func (m *Machine) AddAnother() error {
	if m.State != StatePartialRemainder {
		return &TransitionError{State: m.State, Op: "add another method"}
	}
	m.State = StateMethodSelected
	return nil
}

// FinalizePartial ends the flow with remaining > 0. The surrounding order may
// be saved under-paid in any non-terminal status; settlement will reject it.
func (m *Machine) FinalizePartial() error {
	if m.State != StatePartialRemainder {
		return &TransitionError{State: m.State, Op: "finalize partial"}
	}
	m.State = StateCommitted
	return nil
}

// RemoveEntry drops a committed tender before the surrounding flow persists,
// re-adding its amount into the remainder.
func (m *Machine) RemoveEntry(i int) error {
	if m.State == StateOverpayConfirm {
		return &TransitionError{State: m.State, Op: "remove entry"}
	}
	if i < 0 || i >= len(m.Entries) {
		return ErrNoSuchEntry
	}
	m.Entries = append(m.Entries[:i], m.Entries[i+1:]...)
	if m.State == StateCommitted && m.Remaining().IsPositive() {
		m.State = StatePartialRemainder
	}
	return nil
}

func (m *Machine) append(e Entry) {
	m.Entries = append(m.Entries, e)
	m.PendingMethod = ""
	m.PendingMethodCode = ""
	m.PendingAmount = decimal.Zero
	if m.Remaining().IsPositive() {
		m.State = StatePartialRemainder
	} else {
		m.State = StateCommitted
	}
}

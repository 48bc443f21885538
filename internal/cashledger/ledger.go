// Package cashledger posts settlement entries to an open register session
// and reverses them. Transactions are append-only: a reversal deletes by
// originating order id, it never edits an entry in place.
package cashledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

var (
	ErrRegisterClosed = errors.New("register session is not open")
	ErrNoPayments     = errors.New("no payments to post")
)

// Store defines the DB methods needed by the ledger.
// Satisfied by *database.Queries (and its WithTx variant).
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (database.RegisterSession, error)
	CreateCashTransaction(ctx context.Context, arg database.CreateCashTransactionParams) (database.CashTransaction, error)
	CountCashTransactionsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	DeleteCashTransactionsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
}

// Payment is one tender entry feeding an aggregated settlement post.
type Payment struct {
	Method string
	Amount decimal.Decimal
}

type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// PostSettlement aggregates an order's payments into a single IN transaction
// tagged with the order id. When more than one distinct method was used the
// entry is posted as MULTIPLE.
//
// Posting is idempotent per order: if an entry for the order already exists,
// nothing is written. That makes outbox retries safe.
func (l *Ledger) PostSettlement(ctx context.Context, sessionID, orderID uuid.UUID, payments []Payment, description string) error {
	if len(payments) == 0 {
		return ErrNoPayments
	}

	session, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if session.Status != enum.SessionStatusOpen {
		return ErrRegisterClosed
	}

	existing, err := l.store.CountCashTransactionsByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("count transactions: %w", err)
	}
	if existing > 0 {
		return nil
	}

	total := decimal.Zero
	method := payments[0].Method
	for _, p := range payments {
		total = total.Add(p.Amount)
		if p.Method != method {
			method = enum.PaymentMethodMultiple
		}
	}

	desc := pgtype.Text{}
	if description != "" {
		desc = pgtype.Text{String: description, Valid: true}
	}

	if _, err := l.store.CreateCashTransaction(ctx, database.CreateCashTransactionParams{
		SessionID:          sessionID,
		Amount:             database.DecimalToNumeric(total),
		Direction:          enum.MovementDirectionIn,
		Method:             method,
		OriginatingOrderID: pgtype.UUID{Bytes: orderID, Valid: true},
		Description:        desc,
	}); err != nil {
		return fmt.Errorf("create cash transaction: %w", err)
	}
	return nil
}

// Reverse deletes every transaction tagged with the order id, on the caller's
// store so the reversal can share the caller's transaction. Reversing an
// order with no entries is a no-op, not an error.
func (l *Ledger) Reverse(ctx context.Context, store Store, orderID uuid.UUID) error {
	if _, err := store.DeleteCashTransactionsByOrder(ctx, orderID); err != nil {
		return fmt.Errorf("delete cash transactions: %w", err)
	}
	return nil
}

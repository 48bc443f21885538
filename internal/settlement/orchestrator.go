// Package settlement finalizes orders: it validates coverage, flips the order
// to BILLED, persists the tender entries, and posts the aggregated cash entry.
// The status flip and an outbox row land in one transaction so a crash before
// the cash post leaves a pending row for the reconciler, never a billed order
// whose money silently went missing.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/balcao-pos/api/internal/cashledger"
	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/enum"
	"github.com/balcao-pos/api/internal/tender"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrNoOpenSession   = errors.New("no open register session")
	ErrNotCovered      = errors.New("order total is not fully covered")
	ErrTotalMismatch   = errors.New("tender total does not match the order total")
	ErrAlreadyBilled   = errors.New("order is already billed")
	ErrOrderCancelled  = errors.New("cancelled orders cannot be settled")
	ErrVersionConflict = errors.New("order was modified concurrently")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the DB methods needed to finalize an order.
// Satisfied by *database.Queries (and its WithTx variant).
type Store interface {
	GetOpenSession(ctx context.Context, storeID uuid.UUID) (database.RegisterSession, error)
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	DeletePaymentsByOrder(ctx context.Context, orderID uuid.UUID) error
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	EnqueueSettlementOutbox(ctx context.Context, arg database.EnqueueSettlementOutboxParams) error
	MarkOrderCashLaunched(ctx context.Context, arg database.MarkOrderCashLaunchedParams) (database.Order, error)
	MarkOutboxPosted(ctx context.Context, orderID uuid.UUID) (int64, error)
	ListPendingOutbox(ctx context.Context, limit int32) ([]database.SettlementOutbox, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
	BumpOutboxAttempts(ctx context.Context, orderID uuid.UUID) error
}

// NewStore creates a Store from a DBTX (pool or tx).
type NewStore func(db database.DBTX) Store

// Ledger is the slice of the cash ledger the orchestrator needs.
type Ledger interface {
	PostSettlement(ctx context.Context, sessionID, orderID uuid.UUID, payments []cashledger.Payment, description string) error
}

type Orchestrator struct {
	pool     TxBeginner
	store    Store
	newStore NewStore
	led      Ledger
}

func NewOrchestrator(pool TxBeginner, store Store, newStore NewStore, led Ledger) *Orchestrator {
	return &Orchestrator{pool: pool, store: store, newStore: newStore, led: led}
}

// Finalize settles an order from a completed tender flow.
//
// Preconditions are checked in order: the store must have an open register
// session, the machine's remainder must be within tolerance of zero, and the
// machine's total must match the order total on record. The machine carries
// whatever total the client seeded it with, so coverage alone proves nothing
// about the order; the stored total stays authoritative and is never
// overwritten here. The BILLED flip, the tender entries, and the outbox row
// then commit in one transaction; the cash post runs after commit. If the
// post fails the order stays BILLED with its outbox row pending and the
// reconciler retries it.
func (o *Orchestrator) Finalize(ctx context.Context, storeID, orderID uuid.UUID, m *tender.Machine, description string) (database.Order, error) {
	session, err := o.store.GetOpenSession(ctx, storeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrNoOpenSession
		}
		return database.Order{}, fmt.Errorf("get open session: %w", err)
	}

	if !m.Covered() {
		return database.Order{}, fmt.Errorf("%w: %s remaining", ErrNotCovered, m.Remaining().StringFixed(2))
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	txStore := o.newStore(tx)

	order, err := txStore.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{ID: orderID, StoreID: storeID})
	if err != nil {
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	switch order.Status {
	case enum.OrderStatusBilled:
		return database.Order{}, ErrAlreadyBilled
	case enum.OrderStatusCancelled:
		return database.Order{}, ErrOrderCancelled
	}

	orderTotal := database.NumericToDecimal(order.Total)
	if m.Total.Sub(orderTotal).Abs().GreaterThan(tender.Epsilon) {
		return database.Order{}, fmt.Errorf("%w: machine %s, order %s",
			ErrTotalMismatch, m.Total.StringFixed(2), orderTotal.StringFixed(2))
	}

	settled, err := txStore.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:      orderID,
		Status:  enum.OrderStatusBilled,
		Version: order.Version,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrVersionConflict
		}
		return database.Order{}, fmt.Errorf("settle order: %w", err)
	}

	// Replace, never merge: the machine's entries are the full tender record.
	if err := txStore.DeletePaymentsByOrder(ctx, orderID); err != nil {
		return database.Order{}, fmt.Errorf("clear payments: %w", err)
	}
	for _, e := range m.Entries {
		if _, err := txStore.CreatePayment(ctx, database.CreatePaymentParams{
			OrderID:      orderID,
			Method:       e.Method,
			MethodCode:   e.MethodCode,
			Amount:       database.DecimalToNumeric(e.Amount),
			ChangeAmount: database.DecimalToNumeric(e.Change),
		}); err != nil {
			return database.Order{}, fmt.Errorf("create payment: %w", err)
		}
	}

	if err := txStore.EnqueueSettlementOutbox(ctx, database.EnqueueSettlementOutboxParams{
		OrderID:     orderID,
		SessionID:   session.ID,
		Description: description,
	}); err != nil {
		return database.Order{}, fmt.Errorf("enqueue outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	if err := o.post(ctx, session.ID, orderID, toLedgerPayments(m.Entries), description); err != nil {
		// The order is billed and the outbox row is pending; the reconciler
		// finishes the post.
		slog.Warn("settlement cash post deferred to reconciler",
			"order_id", orderID, "error", err)
		return settled, nil
	}
	return settled, nil
}

// post launches the cash entry and records completion. Shared with the
// reconciler so retries follow the exact same path.
func (o *Orchestrator) post(ctx context.Context, sessionID, orderID uuid.UUID, payments []cashledger.Payment, description string) error {
	if err := o.led.PostSettlement(ctx, sessionID, orderID, payments, description); err != nil {
		return fmt.Errorf("post settlement: %w", err)
	}
	if _, err := o.store.MarkOrderCashLaunched(ctx, database.MarkOrderCashLaunchedParams{
		ID:                  orderID,
		CashLaunched:        true,
		CashLaunchSessionID: pgUUID(sessionID),
	}); err != nil {
		return fmt.Errorf("mark cash launched: %w", err)
	}
	if _, err := o.store.MarkOutboxPosted(ctx, orderID); err != nil {
		return fmt.Errorf("mark outbox posted: %w", err)
	}
	return nil
}

func toLedgerPayments(entries []tender.Entry) []cashledger.Payment {
	out := make([]cashledger.Payment, len(entries))
	for i, e := range entries {
		out[i] = cashledger.Payment{Method: e.Method, Amount: e.Amount}
	}
	return out
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// Package lifecycle drives the order status machine: draft and working
// statuses, cancellation with stock and cash rollback, reopening, and the
// lock on billed orders.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/balcao-pos/api/internal/cashledger"
	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/enum"
	"github.com/balcao-pos/api/internal/inventory"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrAlreadyBilled carries the operator-facing instruction: a billed
	// order is locked until its cash movement is reversed.
	ErrAlreadyBilled     = errors.New("order is already billed - reverse the cash movement first")
	ErrBilledViaStatus   = errors.New("billed status can only be reached through settlement")
	ErrNotBilled         = errors.New("order is not billed")
	ErrNotCancelled      = errors.New("order is not cancelled")
	ErrAlreadyCancelled  = errors.New("order is already cancelled")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrVersionConflict   = errors.New("order was modified concurrently")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the DB methods the controller reads outside a transaction.
// Satisfied by *database.Queries.
type Store interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
}

// TxStore is the transactional view a status flip writes through: the order
// row, the stock writes, the cash reversal, and the outbox row all go through
// one of these so they commit or roll back together.
// Satisfied by *database.Queries.
type TxStore interface {
	Store
	inventory.Store
	cashledger.Store
	MarkOrderCashLaunched(ctx context.Context, arg database.MarkOrderCashLaunchedParams) (database.Order, error)
	DeleteOutbox(ctx context.Context, orderID uuid.UUID) error
}

// NewStore creates a TxStore from a DBTX (pool or tx).
type NewStore func(db database.DBTX) TxStore

// Inventory is the slice of the reconciliation engine the controller needs.
type Inventory interface {
	Cancel(ctx context.Context, store inventory.Store, storeID, orderID uuid.UUID, items []inventory.LineItem) error
	Reopen(ctx context.Context, store inventory.Store, storeID, orderID uuid.UUID, items []inventory.LineItem) error
}

// Ledger is the slice of the cash ledger the controller needs.
type Ledger interface {
	Reverse(ctx context.Context, store cashledger.Store, orderID uuid.UUID) error
}

type Controller struct {
	pool     TxBeginner
	store    Store
	newStore NewStore
	inv      Inventory
	led      Ledger
}

func NewController(pool TxBeginner, store Store, newStore NewStore, inv Inventory, led Ledger) *Controller {
	return &Controller{pool: pool, store: store, newStore: newStore, inv: inv, led: led}
}

// workingStatuses are the non-terminal statuses an order moves through
// before billing or cancellation.
var workingStatuses = map[string]bool{
	enum.OrderStatusDraft:       true,
	enum.OrderStatusOrdered:     true,
	enum.OrderStatusConditional: true,
	enum.OrderStatusQuote:       true,
}

// ChangeStatus moves an order between working statuses. Terminal statuses are
// not reachable here: BILLED only through settlement, CANCELLED only through
// Cancel, and leaving CANCELLED only through Reopen.
func (c *Controller) ChangeStatus(ctx context.Context, storeID, orderID uuid.UUID, newStatus string) (database.Order, error) {
	if !workingStatuses[newStatus] {
		switch newStatus {
		case enum.OrderStatusBilled:
			return database.Order{}, ErrBilledViaStatus
		case enum.OrderStatusCancelled:
			return database.Order{}, fmt.Errorf("%w: use the cancellation operation", ErrInvalidTransition)
		default:
			return database.Order{}, ErrInvalidStatus
		}
	}

	order, err := c.store.GetOrder(ctx, database.GetOrderParams{ID: orderID, StoreID: storeID})
	if err != nil {
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.Status == enum.OrderStatusBilled {
		return database.Order{}, ErrAlreadyBilled
	}
	if order.Status == enum.OrderStatusCancelled {
		return database.Order{}, fmt.Errorf("%w: reopen the order first", ErrInvalidTransition)
	}

	updated, err := c.store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:      orderID,
		Status:  newStatus,
		Version: order.Version,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrVersionConflict
		}
		return database.Order{}, fmt.Errorf("update status: %w", err)
	}
	return updated, nil
}

// Cancel moves a non-billed order to CANCELLED, returns all of its line
// items to stock, and removes any of its cash entries. The flip, the stock
// return, and the cash reversal commit in one transaction: a failed stock
// return leaves the order exactly as it was, never CANCELLED with its stock
// still deducted.
func (c *Controller) Cancel(ctx context.Context, storeID, orderID uuid.UUID) (database.Order, error) {
	order, err := c.store.GetOrder(ctx, database.GetOrderParams{ID: orderID, StoreID: storeID})
	if err != nil {
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.Status == enum.OrderStatusBilled {
		return database.Order{}, ErrAlreadyBilled
	}
	if order.Status == enum.OrderStatusCancelled {
		return database.Order{}, ErrAlreadyCancelled
	}

	items, err := c.store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return database.Order{}, fmt.Errorf("list order items: %w", err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	txStore := c.newStore(tx)

	// The status flip goes first: its version check fences out a second
	// concurrent cancellation before any stock is returned.
	updated, err := txStore.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:      orderID,
		Status:  enum.OrderStatusCancelled,
		Version: order.Version,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrVersionConflict
		}
		return database.Order{}, fmt.Errorf("update status: %w", err)
	}

	if err := c.inv.Cancel(ctx, txStore, storeID, orderID, toLineItems(items)); err != nil {
		return database.Order{}, fmt.Errorf("return stock: %w", err)
	}
	if err := c.led.Reverse(ctx, txStore, orderID); err != nil {
		return database.Order{}, fmt.Errorf("reverse cash: %w", err)
	}
	if updated.CashLaunched {
		updated, err = txStore.MarkOrderCashLaunched(ctx, database.MarkOrderCashLaunchedParams{
			ID:           orderID,
			CashLaunched: false,
		})
		if err != nil {
			return database.Order{}, fmt.Errorf("clear cash launch: %w", err)
		}
	}
	// A posted outbox row would block re-enqueueing if the order is ever
	// reopened and settled again.
	if err := txStore.DeleteOutbox(ctx, orderID); err != nil {
		return database.Order{}, fmt.Errorf("clear outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	return updated, nil
}

// Reopen moves a cancelled order back to DRAFT, re-applying the original
// stock deduction (the mirror image of Cancel). The flip and the deduction
// share one transaction.
func (c *Controller) Reopen(ctx context.Context, storeID, orderID uuid.UUID) (database.Order, error) {
	order, err := c.store.GetOrder(ctx, database.GetOrderParams{ID: orderID, StoreID: storeID})
	if err != nil {
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.Status != enum.OrderStatusCancelled {
		return database.Order{}, ErrNotCancelled
	}

	items, err := c.store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return database.Order{}, fmt.Errorf("list order items: %w", err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	txStore := c.newStore(tx)

	updated, err := txStore.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:      orderID,
		Status:  enum.OrderStatusDraft,
		Version: order.Version,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrVersionConflict
		}
		return database.Order{}, fmt.Errorf("update status: %w", err)
	}

	if err := c.inv.Reopen(ctx, txStore, storeID, orderID, toLineItems(items)); err != nil {
		return database.Order{}, fmt.Errorf("reapply stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	return updated, nil
}

// ReverseBilling unlocks a billed order: the cash entry is removed, the cash
// launch flag cleared, and the order returns to ORDERED. Stock stays applied,
// like any other working order. The outbox row goes too, so a later finalize
// can enqueue a fresh one.
func (c *Controller) ReverseBilling(ctx context.Context, storeID, orderID uuid.UUID) (database.Order, error) {
	order, err := c.store.GetOrder(ctx, database.GetOrderParams{ID: orderID, StoreID: storeID})
	if err != nil {
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.Status != enum.OrderStatusBilled {
		return database.Order{}, ErrNotBilled
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	txStore := c.newStore(tx)

	if err := c.led.Reverse(ctx, txStore, orderID); err != nil {
		return database.Order{}, fmt.Errorf("reverse cash: %w", err)
	}

	updated, err := txStore.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:      orderID,
		Status:  enum.OrderStatusOrdered,
		Version: order.Version,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrVersionConflict
		}
		return database.Order{}, fmt.Errorf("update status: %w", err)
	}

	updated, err = txStore.MarkOrderCashLaunched(ctx, database.MarkOrderCashLaunchedParams{
		ID:           orderID,
		CashLaunched: false,
	})
	if err != nil {
		return database.Order{}, fmt.Errorf("clear cash launch: %w", err)
	}
	if err := txStore.DeleteOutbox(ctx, orderID); err != nil {
		return database.Order{}, fmt.Errorf("clear outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	return updated, nil
}

// Editable reports whether an order's line items may still change. Billed
// orders have no delta path at all.
func Editable(status string) bool {
	return workingStatuses[status]
}

func toLineItems(items []database.OrderItem) []inventory.LineItem {
	out := make([]inventory.LineItem, len(items))
	for i, it := range items {
		li := inventory.LineItem{ProductID: it.ProductID, Quantity: it.Quantity}
		if it.VariationID.Valid {
			li.VariationID = it.VariationID.Bytes
		}
		out[i] = li
	}
	return out
}

// Working returns the orderable working statuses, for validation at the edge.
func Working() []string {
	return []string{
		enum.OrderStatusDraft,
		enum.OrderStatusOrdered,
		enum.OrderStatusConditional,
		enum.OrderStatusQuote,
	}
}

// Package inventory turns line-item changes into stock writes and audit
// records. Every applied delta is paired with exactly one stock movement row
// in the same transaction.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrStockInsufficient = errors.New("insufficient stock")
	ErrVariationNotFound = errors.New("variation not found")
)

// Only slots at positions 1-3 borrow from the base slot.
const maxBorrowPosition = 3

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the DB methods needed to reconcile stock.
// Satisfied by *database.Queries (and its WithTx variant).
type Store interface {
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (database.Product, error)
	ListVariationsByProduct(ctx context.Context, productID uuid.UUID) ([]database.ProductVariation, error)
	UpdateProductStock(ctx context.Context, arg database.UpdateProductStockParams) (database.Product, error)
	UpdateVariationStock(ctx context.Context, arg database.UpdateVariationStockParams) (database.ProductVariation, error)
	CreateStockMovement(ctx context.Context, arg database.CreateStockMovementParams) (database.StockMovement, error)
}

// NewStore creates a Store from a DBTX (pool or tx).
type NewStore func(db database.DBTX) Store

// LineItem is the reconciliation view of an order item: just the resolution
// key and the quantity. VariationID is uuid.Nil for variation-less products.
type LineItem struct {
	ProductID   uuid.UUID
	VariationID uuid.UUID
	Quantity    int32
}

type Engine struct {
	pool     TxBeginner
	newStore NewStore
}

func NewEngine(pool TxBeginner, newStore NewStore) *Engine {
	return &Engine{pool: pool, newStore: newStore}
}

// itemKey is the resolution key per line item.
type itemKey struct {
	productID   uuid.UUID
	variationID uuid.UUID
}

type delta struct {
	key       itemKey
	direction string
	quantity  int32
}

// Reconcile computes the deltas between the previous and new line items of an
// order and applies them: increases become OUT movements, decreases become IN
// movements. Increases are validated against authoritative stock inside the
// transaction and fail with ErrStockInsufficient when the resolved pool
// cannot cover them; nothing is written in that case.
func (e *Engine) Reconcile(ctx context.Context, storeID, orderID uuid.UUID, prev, next []LineItem, reason string) error {
	deltas := computeDeltas(prev, next)
	if len(deltas) == 0 {
		return nil
	}
	return e.apply(ctx, storeID, orderID, deltas, reason, true)
}

// ReconcileWith is Reconcile running on the caller's store, so order writes
// and stock writes can share one transaction. Failing a delta leaves the
// caller's transaction poisoned; the caller must roll back.
func (e *Engine) ReconcileWith(ctx context.Context, store Store, storeID, orderID uuid.UUID, prev, next []LineItem, reason string) error {
	for _, d := range computeDeltas(prev, next) {
		if err := applyDelta(ctx, store, storeID, orderID, d, reason, true); err != nil {
			return err
		}
	}
	return nil
}

// ApplyCreation runs the creation path: every line item is a pure OUT
// movement.
func (e *Engine) ApplyCreation(ctx context.Context, storeID, orderID uuid.UUID, items []LineItem, reason string) error {
	return e.Reconcile(ctx, storeID, orderID, nil, items, reason)
}

// Cancel returns all of an order's current line items in full. It runs on
// the caller's store so the stock return commits atomically with whatever
// order write triggered it.
func (e *Engine) Cancel(ctx context.Context, store Store, storeID, orderID uuid.UUID, items []LineItem) error {
	for _, d := range computeDeltas(items, nil) {
		if err := applyDelta(ctx, store, storeID, orderID, d, enum.MovementReasonCancel, true); err != nil {
			return err
		}
	}
	return nil
}

// Reopen re-applies the original deductions of a previously cancelled order,
// the mirror image of Cancel, on the caller's store. Deductions clamp rather
// than fail here: stock may legitimately have moved while the order sat
// cancelled.
func (e *Engine) Reopen(ctx context.Context, store Store, storeID, orderID uuid.UUID, items []LineItem) error {
	for _, d := range computeDeltas(nil, items) {
		if err := applyDelta(ctx, store, storeID, orderID, d, enum.MovementReasonServiceOrder, false); err != nil {
			return err
		}
	}
	return nil
}

// Adjust applies a manual stock correction outside any order. Positive qty
// adds stock, negative qty removes it and fails with ErrStockInsufficient when
// the resolved pool cannot cover it. The movement record carries no order
// reference.
func (e *Engine) Adjust(ctx context.Context, storeID, productID, variationID uuid.UUID, qty int32) error {
	if qty == 0 {
		return nil
	}
	d := delta{
		key:       itemKey{productID, variationID},
		direction: enum.MovementDirectionIn,
		quantity:  qty,
	}
	if qty < 0 {
		d.direction = enum.MovementDirectionOut
		d.quantity = -qty
	}
	return e.apply(ctx, storeID, uuid.Nil, []delta{d}, enum.MovementReasonAdjustment, true)
}

// Available reports the effective deductible stock for a resolution key,
// honoring the shared-stock fallback. Used for edit-time checks; Reconcile
// re-validates authoritatively at commit time.
func (e *Engine) Available(ctx context.Context, store Store, productID, variationID uuid.UUID) (int32, error) {
	product, err := store.GetProductForUpdate(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("get product: %w", err)
	}
	if variationID == uuid.Nil {
		return product.Stock, nil
	}
	slots, err := store.ListVariationsByProduct(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("list variations: %w", err)
	}
	resolved, err := resolveSlot(slots, variationID, enum.MovementDirectionOut)
	if err != nil {
		return 0, err
	}
	return resolved.Stock, nil
}

// computeDeltas pairs prev and next by resolution key. Quantity growth (or a
// new key) yields an OUT delta; shrinkage (or a removed key) yields an IN
// delta.
func computeDeltas(prev, next []LineItem) []delta {
	prevQty := make(map[itemKey]int32)
	for _, it := range prev {
		prevQty[itemKey{it.ProductID, it.VariationID}] += it.Quantity
	}
	nextQty := make(map[itemKey]int32)
	for _, it := range next {
		nextQty[itemKey{it.ProductID, it.VariationID}] += it.Quantity
	}

	keys := make(map[itemKey]struct{})
	for k := range prevQty {
		keys[k] = struct{}{}
	}
	for k := range nextQty {
		keys[k] = struct{}{}
	}

	var deltas []delta
	for k := range keys {
		diff := nextQty[k] - prevQty[k]
		switch {
		case diff > 0:
			deltas = append(deltas, delta{key: k, direction: enum.MovementDirectionOut, quantity: diff})
		case diff < 0:
			deltas = append(deltas, delta{key: k, direction: enum.MovementDirectionIn, quantity: -diff})
		}
	}

	// Deterministic order keeps row-lock acquisition consistent across
	// concurrent reconciliations.
	sort.Slice(deltas, func(i, j int) bool {
		a, b := deltas[i].key, deltas[j].key
		if a.productID != b.productID {
			return a.productID.String() < b.productID.String()
		}
		return a.variationID.String() < b.variationID.String()
	})
	return deltas
}

// apply runs all deltas in one transaction. strict makes OUT deltas fail on
// insufficient stock instead of clamping.
func (e *Engine) apply(ctx context.Context, storeID, orderID uuid.UUID, deltas []delta, reason string, strict bool) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := e.newStore(tx)
	for _, d := range deltas {
		if err := applyDelta(ctx, store, storeID, orderID, d, reason, strict); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// applyDelta writes one stock delta and its movement record. The product row
// is locked first so the availability check and the write are one step.
func applyDelta(ctx context.Context, store Store, storeID, orderID uuid.UUID, d delta, reason string, strict bool) error {
	product, err := store.GetProductForUpdate(ctx, d.key.productID)
	if err != nil {
		return fmt.Errorf("get product %s: %w", d.key.productID, err)
	}

	if d.key.variationID == uuid.Nil {
		return applyBaseDelta(ctx, store, storeID, orderID, product, d, reason, strict)
	}

	slots, err := store.ListVariationsByProduct(ctx, d.key.productID)
	if err != nil {
		return fmt.Errorf("list variations: %w", err)
	}
	resolved, err := resolveSlot(slots, d.key.variationID, d.direction)
	if err != nil {
		return fmt.Errorf("product %s: %w", d.key.productID, err)
	}

	applied := d.quantity
	var newSlotStock int32
	switch d.direction {
	case enum.MovementDirectionOut:
		if applied > resolved.Stock {
			if strict {
				return fmt.Errorf("product %s variation %s: %w", d.key.productID, d.key.variationID, ErrStockInsufficient)
			}
			applied = resolved.Stock
		}
		newSlotStock = resolved.Stock - applied
	case enum.MovementDirectionIn:
		newSlotStock = resolved.Stock + applied
	default:
		return fmt.Errorf("unknown movement direction %q", d.direction)
	}
	if applied == 0 {
		// No delta applied, no record: the audit log only ever reflects
		// real stock changes.
		return nil
	}

	if _, err := store.UpdateVariationStock(ctx, database.UpdateVariationStockParams{
		ID:    resolved.ID,
		Stock: newSlotStock,
	}); err != nil {
		return fmt.Errorf("update variation stock: %w", err)
	}

	// Aggregate counter is always the sum of the slots.
	aggregate := int32(0)
	for _, s := range slots {
		if s.ID == resolved.ID {
			aggregate += newSlotStock
		} else {
			aggregate += s.Stock
		}
	}
	if _, err := store.UpdateProductStock(ctx, database.UpdateProductStockParams{
		ID:    product.ID,
		Stock: aggregate,
	}); err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}

	// The record references the resolved slot: that is where the delta
	// actually landed under the shared-stock fallback.
	if _, err := store.CreateStockMovement(ctx, database.CreateStockMovementParams{
		StoreID:          storeID,
		ProductID:        product.ID,
		VariationID:      pgtype.UUID{Bytes: resolved.ID, Valid: true},
		Direction:        d.direction,
		Quantity:         applied,
		Reason:           reason,
		ReferenceOrderID: orderRef(orderID),
	}); err != nil {
		return fmt.Errorf("create stock movement: %w", err)
	}
	return nil
}

// applyBaseDelta handles variation-less products, where the base counter is
// the pool itself.
func applyBaseDelta(ctx context.Context, store Store, storeID, orderID uuid.UUID, product database.Product, d delta, reason string, strict bool) error {
	applied := d.quantity
	var newStock int32
	switch d.direction {
	case enum.MovementDirectionOut:
		if applied > product.Stock {
			if strict {
				return fmt.Errorf("product %s: %w", product.ID, ErrStockInsufficient)
			}
			applied = product.Stock
		}
		newStock = product.Stock - applied
	case enum.MovementDirectionIn:
		newStock = product.Stock + applied
	default:
		return fmt.Errorf("unknown movement direction %q", d.direction)
	}
	if applied == 0 {
		return nil
	}

	if _, err := store.UpdateProductStock(ctx, database.UpdateProductStockParams{
		ID:    product.ID,
		Stock: newStock,
	}); err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}

	if _, err := store.CreateStockMovement(ctx, database.CreateStockMovementParams{
		StoreID:          storeID,
		ProductID:        product.ID,
		Direction:        d.direction,
		Quantity:         applied,
		Reason:           reason,
		ReferenceOrderID: orderRef(orderID),
	}); err != nil {
		return fmt.Errorf("create stock movement: %w", err)
	}
	return nil
}

// orderRef builds the nullable order reference for a movement record. Manual
// adjustments pass uuid.Nil and record no reference.
func orderRef(orderID uuid.UUID) pgtype.UUID {
	if orderID == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: orderID, Valid: true}
}

// resolveSlot applies the shared-stock fallback: slots at positions 1-3 whose
// own stock is zero borrow the base slot when it has stock. Position 0 and
// positions 4+ never borrow. Only deductions borrow; additions always land on
// the requested slot.
func resolveSlot(slots []database.ProductVariation, variationID uuid.UUID, direction string) (database.ProductVariation, error) {
	idx := -1
	for i, s := range slots {
		if s.ID == variationID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return database.ProductVariation{}, fmt.Errorf("%w: %s", ErrVariationNotFound, variationID)
	}

	slot := slots[idx]
	if direction == enum.MovementDirectionOut &&
		slot.Position >= 1 && slot.Position <= maxBorrowPosition && slot.Stock == 0 {
		for _, s := range slots {
			if s.Position == 0 && s.Stock > 0 {
				return s, nil
			}
		}
	}
	return slot, nil
}

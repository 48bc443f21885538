// Package service holds order business logic: validated creation and line-item
// editing, with stock reconciliation joining the same transaction as the order
// writes.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/enum"
	"github.com/balcao-pos/api/internal/inventory"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Errors returned by the order service.
var (
	ErrEmptyItems         = errors.New("items are required")
	ErrInvalidKind        = errors.New("invalid kind")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrInvalidProductID   = errors.New("invalid product_id")
	ErrInvalidVariationID = errors.New("invalid variation_id")
	ErrInvalidClientID    = errors.New("invalid client_id")
	ErrInvalidDiscount    = errors.New("invalid discount")
	ErrInvalidUnitPrice   = errors.New("invalid unit_price")
	ErrProductNotFound    = errors.New("product not found in store")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotEditable   = errors.New("order is not editable in its current status")
	ErrVersionConflict    = errors.New("order was modified concurrently")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed to create and edit orders. It
// embeds the inventory store so stock deltas run on the same transaction.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	inventory.Store
	GetProduct(ctx context.Context, arg database.GetProductParams) (database.Product, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	DeleteOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) error
	UpdateOrderTotals(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// Inventory is the slice of the reconciliation engine the service needs: the
// in-transaction variant only.
type Inventory interface {
	ReconcileWith(ctx context.Context, store inventory.Store, storeID, orderID uuid.UUID, prev, next []inventory.LineItem, reason string) error
}

// CreateOrderRequest is the validated input for creating an order.
type CreateOrderRequest struct {
	StoreID   uuid.UUID
	CreatedBy uuid.UUID
	ClientID  string
	Kind      string
	Status    string
	Discount  string
	Items     []OrderItemRequest
}

// OrderItemRequest is a single line item. UnitPrice overrides the catalog
// price when set.
type OrderItemRequest struct {
	ProductID    string
	VariationID  string
	Quantity     int32
	UnitPrice    string
	LineDiscount string
}

// CreateOrderResult is the full created order with items.
type CreateOrderResult struct {
	Order database.Order
	Items []database.OrderItem
}

// OrderService handles order business logic.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	inv      Inventory
}

func NewOrderService(pool TxBeginner, newStore NewOrderStore, inv Inventory) *OrderService {
	return &OrderService{pool: pool, newStore: newStore, inv: inv}
}

// preparedItem is a validated line item ready to insert.
type preparedItem struct {
	params database.CreateOrderItemParams
	line   inventory.LineItem
	total  decimal.Decimal
}

// CreateOrder validates the request and creates the order, its items, and the
// matching stock deductions in one transaction. Insufficient stock on any line
// rolls the whole order back.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	kind, err := validateKind(req.Kind)
	if err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = enum.OrderStatusDraft
	}
	if !isWorkingStatus(status) {
		return nil, ErrInvalidStatus
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	clientID := pgtype.UUID{}
	if req.ClientID != "" {
		id, err := uuid.Parse(req.ClientID)
		if err != nil {
			return nil, ErrInvalidClientID
		}
		clientID = pgtype.UUID{Bytes: id, Valid: true}
	}

	discount, err := parseMoney(req.Discount, ErrInvalidDiscount)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := s.newStore(tx)

	prepared, total, err := s.prepareItems(ctx, store, req.StoreID, req.Items)
	if err != nil {
		return nil, err
	}
	total = total.Sub(discount)
	if total.IsNegative() {
		return nil, ErrInvalidDiscount
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		StoreID:   req.StoreID,
		ClientID:  clientID,
		Kind:      kind,
		Status:    status,
		Total:     database.DecimalToNumeric(total),
		Discount:  database.DecimalToNumeric(discount),
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	result := &CreateOrderResult{Order: order}
	var lines []inventory.LineItem
	for _, p := range prepared {
		p.params.OrderID = order.ID
		item, err := store.CreateOrderItem(ctx, p.params)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		result.Items = append(result.Items, item)
		lines = append(lines, p.line)
	}

	if err := s.inv.ReconcileWith(ctx, store, req.StoreID, order.ID, nil, lines, reasonForKind(kind)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

// UpdateItems replaces an order's line items, reconciling stock against the
// previous set: only the deltas move. Runs entirely in one transaction with
// the order row locked.
func (s *OrderService) UpdateItems(ctx context.Context, storeID, orderID uuid.UUID, items []OrderItemRequest) (*CreateOrderResult, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{ID: orderID, StoreID: storeID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !isWorkingStatus(order.Status) {
		return nil, ErrOrderNotEditable
	}

	prevItems, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	prev := toLines(prevItems)

	prepared, total, err := s.prepareItems(ctx, store, storeID, items)
	if err != nil {
		return nil, err
	}
	discount := database.NumericToDecimal(order.Discount)
	total = total.Sub(discount)
	if total.IsNegative() {
		return nil, ErrInvalidDiscount
	}

	if err := store.DeleteOrderItemsByOrder(ctx, orderID); err != nil {
		return nil, fmt.Errorf("delete order items: %w", err)
	}

	result := &CreateOrderResult{}
	var next []inventory.LineItem
	for _, p := range prepared {
		p.params.OrderID = orderID
		item, err := store.CreateOrderItem(ctx, p.params)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		result.Items = append(result.Items, item)
		next = append(next, p.line)
	}

	if err := s.inv.ReconcileWith(ctx, store, storeID, orderID, prev, next, enum.MovementReasonAdjustment); err != nil {
		return nil, err
	}

	updated, err := store.UpdateOrderTotals(ctx, database.UpdateOrderTotalsParams{
		ID:       orderID,
		Total:    database.DecimalToNumeric(total),
		Discount: order.Discount,
		Version:  order.Version,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("update order totals: %w", err)
	}
	result.Order = updated

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

// prepareItems validates and prices the request items against the catalog.
func (s *OrderService) prepareItems(ctx context.Context, store OrderStore, storeID uuid.UUID, items []OrderItemRequest) ([]preparedItem, decimal.Decimal, error) {
	var prepared []preparedItem
	total := decimal.Zero
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, decimal.Zero, ErrInvalidQuantity
		}
		productID, err := uuid.Parse(it.ProductID)
		if err != nil {
			return nil, decimal.Zero, ErrInvalidProductID
		}
		product, err := store.GetProduct(ctx, database.GetProductParams{ID: productID, StoreID: storeID})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, decimal.Zero, ErrProductNotFound
			}
			return nil, decimal.Zero, fmt.Errorf("get product: %w", err)
		}

		variationID := pgtype.UUID{}
		line := inventory.LineItem{ProductID: productID, Quantity: it.Quantity}
		if it.VariationID != "" {
			vid, err := uuid.Parse(it.VariationID)
			if err != nil {
				return nil, decimal.Zero, ErrInvalidVariationID
			}
			variationID = pgtype.UUID{Bytes: vid, Valid: true}
			line.VariationID = vid
		}

		unitPrice := database.NumericToDecimal(product.Price)
		if it.UnitPrice != "" {
			unitPrice, err = decimal.NewFromString(it.UnitPrice)
			if err != nil || unitPrice.IsNegative() {
				return nil, decimal.Zero, ErrInvalidUnitPrice
			}
		}
		lineDiscount, err := parseMoney(it.LineDiscount, ErrInvalidDiscount)
		if err != nil {
			return nil, decimal.Zero, err
		}

		lineTotal := unitPrice.Mul(decimal.NewFromInt32(it.Quantity)).Sub(lineDiscount)
		if lineTotal.IsNegative() {
			return nil, decimal.Zero, ErrInvalidDiscount
		}
		total = total.Add(lineTotal)

		prepared = append(prepared, preparedItem{
			params: database.CreateOrderItemParams{
				ProductID:    productID,
				VariationID:  variationID,
				Quantity:     it.Quantity,
				UnitPrice:    database.DecimalToNumeric(unitPrice),
				LineDiscount: database.DecimalToNumeric(lineDiscount),
			},
			line:  line,
			total: lineTotal,
		})
	}
	return prepared, total, nil
}

func validateKind(kind string) (string, error) {
	switch kind {
	case enum.OrderKindSale, enum.OrderKindServiceOrder:
		return kind, nil
	case "":
		return enum.OrderKindSale, nil
	}
	return "", ErrInvalidKind
}

func isWorkingStatus(status string) bool {
	switch status {
	case enum.OrderStatusDraft, enum.OrderStatusOrdered, enum.OrderStatusConditional, enum.OrderStatusQuote:
		return true
	}
	return false
}

func reasonForKind(kind string) string {
	if kind == enum.OrderKindServiceOrder {
		return enum.MovementReasonServiceOrder
	}
	return enum.MovementReasonSale
}

func parseMoney(s string, invalid error) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, invalid
	}
	return d, nil
}

func toLines(items []database.OrderItem) []inventory.LineItem {
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

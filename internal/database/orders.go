package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const createOrder = `
INSERT INTO orders (store_id, client_id, kind, status, total, discount, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, store_id, client_id, kind, status, total, discount, cash_launched,
          cash_launch_session_id, version, created_by, created_at, updated_at
`

type CreateOrderParams struct {
	StoreID   uuid.UUID
	ClientID  pgtype.UUID
	Kind      string
	Status    string
	Total     pgtype.Numeric
	Discount  pgtype.Numeric
	CreatedBy uuid.UUID
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.StoreID, arg.ClientID, arg.Kind, arg.Status, arg.Total, arg.Discount, arg.CreatedBy)
	return scanOrder(row)
}

const getOrder = `
SELECT id, store_id, client_id, kind, status, total, discount, cash_launched,
       cash_launch_session_id, version, created_by, created_at, updated_at
FROM orders
WHERE id = $1 AND store_id = $2
`

type GetOrderParams struct {
	ID      uuid.UUID
	StoreID uuid.UUID
}

func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, getOrder, arg.ID, arg.StoreID)
	return scanOrder(row)
}

const getOrderForUpdate = `
SELECT id, store_id, client_id, kind, status, total, discount, cash_launched,
       cash_launch_session_id, version, created_by, created_at, updated_at
FROM orders
WHERE id = $1 AND store_id = $2
FOR NO KEY UPDATE
`

type GetOrderForUpdateParams struct {
	ID      uuid.UUID
	StoreID uuid.UUID
}

func (q *Queries) GetOrderForUpdate(ctx context.Context, arg GetOrderForUpdateParams) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderForUpdate, arg.ID, arg.StoreID)
	return scanOrder(row)
}

const listOrders = `
SELECT id, store_id, client_id, kind, status, total, discount, cash_launched,
       cash_launch_session_id, version, created_by, created_at, updated_at
FROM orders
WHERE store_id = $1
  AND ($2::text IS NULL OR status = $2)
  AND ($3::text IS NULL OR kind = $3)
  AND ($4::timestamptz IS NULL OR created_at >= $4)
  AND ($5::timestamptz IS NULL OR created_at < $5)
ORDER BY created_at DESC
LIMIT $6 OFFSET $7
`

type ListOrdersParams struct {
	StoreID   uuid.UUID
	Status    pgtype.Text
	Kind      pgtype.Text
	StartDate pgtype.Timestamptz
	EndDate   pgtype.Timestamptz
	Limit     int32
	Offset    int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders,
		arg.StoreID, arg.Status, arg.Kind, arg.StartDate, arg.EndDate, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

const countWorkingOrders = `
SELECT COUNT(*) FROM orders
WHERE store_id = $1 AND status IN ('DRAFT', 'ORDERED', 'CONDITIONAL', 'QUOTE')
`

func (q *Queries) CountWorkingOrders(ctx context.Context, storeID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countWorkingOrders, storeID).Scan(&n)
	return n, err
}

const updateOrderStatus = `
UPDATE orders
SET status = $2, updated_at = now(), version = version + 1
WHERE id = $1 AND version = $3
RETURNING id, store_id, client_id, kind, status, total, discount, cash_launched,
          cash_launch_session_id, version, created_by, created_at, updated_at
`

type UpdateOrderStatusParams struct {
	ID      uuid.UUID
	Status  string
	Version int32
}

// UpdateOrderStatus is an optimistic compare-and-set: it only writes when the
// caller's version is current. pgx.ErrNoRows means a concurrent writer won.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.Status, arg.Version)
	return scanOrder(row)
}

const updateOrderTotals = `
UPDATE orders
SET total = $2, discount = $3, updated_at = now(), version = version + 1
WHERE id = $1 AND version = $4
RETURNING id, store_id, client_id, kind, status, total, discount, cash_launched,
          cash_launch_session_id, version, created_by, created_at, updated_at
`

type UpdateOrderTotalsParams struct {
	ID       uuid.UUID
	Total    pgtype.Numeric
	Discount pgtype.Numeric
	Version  int32
}

// UpdateOrderTotals writes server-computed totals under the same optimistic
// version check as UpdateOrderStatus. Status is not writable here.
func (q *Queries) UpdateOrderTotals(ctx context.Context, arg UpdateOrderTotalsParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderTotals, arg.ID, arg.Total, arg.Discount, arg.Version)
	return scanOrder(row)
}

const markOrderCashLaunched = `
UPDATE orders
SET cash_launched = $2, cash_launch_session_id = $3, updated_at = now()
WHERE id = $1
RETURNING id, store_id, client_id, kind, status, total, discount, cash_launched,
          cash_launch_session_id, version, created_by, created_at, updated_at
`

type MarkOrderCashLaunchedParams struct {
	ID                  uuid.UUID
	CashLaunched        bool
	CashLaunchSessionID pgtype.UUID
}

func (q *Queries) MarkOrderCashLaunched(ctx context.Context, arg MarkOrderCashLaunchedParams) (Order, error) {
	row := q.db.QueryRow(ctx, markOrderCashLaunched, arg.ID, arg.CashLaunched, arg.CashLaunchSessionID)
	return scanOrder(row)
}

const createOrderItem = `
INSERT INTO order_items (order_id, product_id, variation_id, quantity, unit_price, line_discount)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, order_id, product_id, variation_id, quantity, unit_price, line_discount
`

type CreateOrderItemParams struct {
	OrderID      uuid.UUID
	ProductID    uuid.UUID
	VariationID  pgtype.UUID
	Quantity     int32
	UnitPrice    pgtype.Numeric
	LineDiscount pgtype.Numeric
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID, arg.ProductID, arg.VariationID, arg.Quantity, arg.UnitPrice, arg.LineDiscount)
	var i OrderItem
	err := row.Scan(&i.ID, &i.OrderID, &i.ProductID, &i.VariationID, &i.Quantity, &i.UnitPrice, &i.LineDiscount)
	return i, err
}

const listOrderItemsByOrder = `
SELECT id, order_id, product_id, variation_id, quantity, unit_price, line_discount
FROM order_items
WHERE order_id = $1
ORDER BY id
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(&i.ID, &i.OrderID, &i.ProductID, &i.VariationID, &i.Quantity, &i.UnitPrice, &i.LineDiscount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteOrderItemsByOrder = `
DELETE FROM order_items WHERE order_id = $1
`

func (q *Queries) DeleteOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteOrderItemsByOrder, orderID)
	return err
}

const createPayment = `
INSERT INTO payments (order_id, method, method_code, amount, change_amount)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, order_id, method, method_code, amount, change_amount, created_at
`

type CreatePaymentParams struct {
	OrderID      uuid.UUID
	Method       string
	MethodCode   string
	Amount       pgtype.Numeric
	ChangeAmount pgtype.Numeric
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	row := q.db.QueryRow(ctx, createPayment,
		arg.OrderID, arg.Method, arg.MethodCode, arg.Amount, arg.ChangeAmount)
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Method, &p.MethodCode, &p.Amount, &p.ChangeAmount, &p.CreatedAt)
	return p, err
}

const listPaymentsByOrder = `
SELECT id, order_id, method, method_code, amount, change_amount, created_at
FROM payments
WHERE order_id = $1
ORDER BY created_at
`

func (q *Queries) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	rows, err := q.db.Query(ctx, listPaymentsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Method, &p.MethodCode, &p.Amount, &p.ChangeAmount, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

const deletePaymentsByOrder = `
DELETE FROM payments WHERE order_id = $1
`

func (q *Queries) DeletePaymentsByOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deletePaymentsByOrder, orderID)
	return err
}

const sumPaymentsByOrder = `
SELECT COALESCE(SUM(amount), 0)::numeric
FROM payments
WHERE order_id = $1
`

func (q *Queries) SumPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	err := q.db.QueryRow(ctx, sumPaymentsByOrder, orderID).Scan(&n)
	return n, err
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.StoreID, &o.ClientID, &o.Kind, &o.Status, &o.Total,
		&o.Discount, &o.CashLaunched, &o.CashLaunchSessionID, &o.Version,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

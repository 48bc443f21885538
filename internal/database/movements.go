package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const createStockMovement = `
INSERT INTO stock_movements (store_id, product_id, variation_id, direction, quantity, reason, reference_order_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, store_id, product_id, variation_id, direction, quantity, reason, reference_order_id, created_at
`

type CreateStockMovementParams struct {
	StoreID          uuid.UUID
	ProductID        uuid.UUID
	VariationID      pgtype.UUID
	Direction        string
	Quantity         int32
	Reason           string
	ReferenceOrderID pgtype.UUID
}

func (q *Queries) CreateStockMovement(ctx context.Context, arg CreateStockMovementParams) (StockMovement, error) {
	row := q.db.QueryRow(ctx, createStockMovement,
		arg.StoreID, arg.ProductID, arg.VariationID, arg.Direction, arg.Quantity, arg.Reason, arg.ReferenceOrderID)
	return scanMovement(row)
}

const listStockMovements = `
SELECT id, store_id, product_id, variation_id, direction, quantity, reason, reference_order_id, created_at
FROM stock_movements
WHERE store_id = $1
  AND ($2::uuid IS NULL OR product_id = $2)
  AND ($3::uuid IS NULL OR reference_order_id = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5
`

type ListStockMovementsParams struct {
	StoreID          uuid.UUID
	ProductID        pgtype.UUID
	ReferenceOrderID pgtype.UUID
	Limit            int32
	Offset           int32
}

func (q *Queries) ListStockMovements(ctx context.Context, arg ListStockMovementsParams) ([]StockMovement, error) {
	rows, err := q.db.Query(ctx, listStockMovements,
		arg.StoreID, arg.ProductID, arg.ReferenceOrderID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func scanMovement(row pgx.Row) (StockMovement, error) {
	var m StockMovement
	err := row.Scan(&m.ID, &m.StoreID, &m.ProductID, &m.VariationID, &m.Direction,
		&m.Quantity, &m.Reason, &m.ReferenceOrderID, &m.CreatedAt)
	return m, err
}

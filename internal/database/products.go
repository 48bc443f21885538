package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const createProduct = `
INSERT INTO products (store_id, name, price, stock)
VALUES ($1, $2, $3, $4)
RETURNING id, store_id, name, price, stock, version, created_at, updated_at
`

type CreateProductParams struct {
	StoreID uuid.UUID
	Name    string
	Price   pgtype.Numeric
	Stock   int32
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, createProduct, arg.StoreID, arg.Name, arg.Price, arg.Stock)
	return scanProduct(row)
}

const getProduct = `
SELECT id, store_id, name, price, stock, version, created_at, updated_at
FROM products
WHERE id = $1 AND store_id = $2
`

type GetProductParams struct {
	ID      uuid.UUID
	StoreID uuid.UUID
}

func (q *Queries) GetProduct(ctx context.Context, arg GetProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, getProduct, arg.ID, arg.StoreID)
	return scanProduct(row)
}

const getProductForUpdate = `
SELECT id, store_id, name, price, stock, version, created_at, updated_at
FROM products
WHERE id = $1
FOR NO KEY UPDATE
`

// GetProductForUpdate locks the product row so concurrent reconciliations
// serialize their stock writes.
func (q *Queries) GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error) {
	row := q.db.QueryRow(ctx, getProductForUpdate, id)
	return scanProduct(row)
}

const listProducts = `
SELECT id, store_id, name, price, stock, version, created_at, updated_at
FROM products
WHERE store_id = $1
ORDER BY name
LIMIT $2 OFFSET $3
`

type ListProductsParams struct {
	StoreID uuid.UUID
	Limit   int32
	Offset  int32
}

func (q *Queries) ListProducts(ctx context.Context, arg ListProductsParams) ([]Product, error) {
	rows, err := q.db.Query(ctx, listProducts, arg.StoreID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

const updateProduct = `
UPDATE products
SET name = $2, price = $3, updated_at = now(), version = version + 1
WHERE id = $1 AND store_id = $4
RETURNING id, store_id, name, price, stock, version, created_at, updated_at
`

type UpdateProductParams struct {
	ID      uuid.UUID
	Name    string
	Price   pgtype.Numeric
	StoreID uuid.UUID
}

func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, updateProduct, arg.ID, arg.Name, arg.Price, arg.StoreID)
	return scanProduct(row)
}

const updateProductStock = `
UPDATE products
SET stock = $2, updated_at = now()
WHERE id = $1
RETURNING id, store_id, name, price, stock, version, created_at, updated_at
`

type UpdateProductStockParams struct {
	ID    uuid.UUID
	Stock int32
}

func (q *Queries) UpdateProductStock(ctx context.Context, arg UpdateProductStockParams) (Product, error) {
	row := q.db.QueryRow(ctx, updateProductStock, arg.ID, arg.Stock)
	return scanProduct(row)
}

const createVariation = `
INSERT INTO product_variations (product_id, position, name, stock)
VALUES ($1, $2, $3, $4)
RETURNING id, product_id, position, name, stock
`

type CreateVariationParams struct {
	ProductID uuid.UUID
	Position  int32
	Name      string
	Stock     int32
}

func (q *Queries) CreateVariation(ctx context.Context, arg CreateVariationParams) (ProductVariation, error) {
	row := q.db.QueryRow(ctx, createVariation, arg.ProductID, arg.Position, arg.Name, arg.Stock)
	return scanVariation(row)
}

const getVariation = `
SELECT id, product_id, position, name, stock
FROM product_variations
WHERE id = $1
`

func (q *Queries) GetVariation(ctx context.Context, id uuid.UUID) (ProductVariation, error) {
	row := q.db.QueryRow(ctx, getVariation, id)
	return scanVariation(row)
}

const listVariationsByProduct = `
SELECT id, product_id, position, name, stock
FROM product_variations
WHERE product_id = $1
ORDER BY position
`

func (q *Queries) ListVariationsByProduct(ctx context.Context, productID uuid.UUID) ([]ProductVariation, error) {
	rows, err := q.db.Query(ctx, listVariationsByProduct, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProductVariation
	for rows.Next() {
		v, err := scanVariation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

const updateVariation = `
UPDATE product_variations
SET name = $2
WHERE id = $1
RETURNING id, product_id, position, name, stock
`

type UpdateVariationParams struct {
	ID   uuid.UUID
	Name string
}

func (q *Queries) UpdateVariation(ctx context.Context, arg UpdateVariationParams) (ProductVariation, error) {
	row := q.db.QueryRow(ctx, updateVariation, arg.ID, arg.Name)
	return scanVariation(row)
}

const updateVariationStock = `
UPDATE product_variations
SET stock = $2
WHERE id = $1
RETURNING id, product_id, position, name, stock
`

type UpdateVariationStockParams struct {
	ID    uuid.UUID
	Stock int32
}

func (q *Queries) UpdateVariationStock(ctx context.Context, arg UpdateVariationStockParams) (ProductVariation, error) {
	row := q.db.QueryRow(ctx, updateVariationStock, arg.ID, arg.Stock)
	return scanVariation(row)
}

const deleteVariation = `
DELETE FROM product_variations WHERE id = $1
`

func (q *Queries) DeleteVariation(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteVariation, id)
	return tag.RowsAffected(), err
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.Price, &p.Stock, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanVariation(row pgx.Row) (ProductVariation, error) {
	var v ProductVariation
	err := row.Scan(&v.ID, &v.ProductID, &v.Position, &v.Name, &v.Stock)
	return v, err
}

package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const getClient = `
SELECT id, store_id, name, phone, email, created_at
FROM clients
WHERE id = $1 AND store_id = $2
`

type GetClientParams struct {
	ID      uuid.UUID
	StoreID uuid.UUID
}

func (q *Queries) GetClient(ctx context.Context, arg GetClientParams) (Client, error) {
	row := q.db.QueryRow(ctx, getClient, arg.ID, arg.StoreID)
	return scanClient(row)
}

const listClients = `
SELECT id, store_id, name, phone, email, created_at
FROM clients
WHERE store_id = $1
ORDER BY name
LIMIT $2 OFFSET $3
`

type ListClientsParams struct {
	StoreID uuid.UUID
	Limit   int32
	Offset  int32
}

func (q *Queries) ListClients(ctx context.Context, arg ListClientsParams) ([]Client, error) {
	rows, err := q.db.Query(ctx, listClients, arg.StoreID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.StoreID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	return c, err
}

package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const enqueueSettlementOutbox = `
INSERT INTO settlement_outbox (order_id, session_id, description)
VALUES ($1, $2, $3)
ON CONFLICT (order_id) DO NOTHING
`

type EnqueueSettlementOutboxParams struct {
	OrderID     uuid.UUID
	SessionID   uuid.UUID
	Description string
}

// EnqueueSettlementOutbox is written in the same transaction as the terminal
// status so a crash between the status write and the ledger post leaves a
// pending row for the reconciler instead of a silently inconsistent order.
func (q *Queries) EnqueueSettlementOutbox(ctx context.Context, arg EnqueueSettlementOutboxParams) error {
	_, err := q.db.Exec(ctx, enqueueSettlementOutbox, arg.OrderID, arg.SessionID, arg.Description)
	return err
}

const listPendingOutbox = `
SELECT order_id, session_id, description, attempts, posted_at, created_at
FROM settlement_outbox
WHERE posted_at IS NULL
ORDER BY created_at
LIMIT $1
`

func (q *Queries) ListPendingOutbox(ctx context.Context, limit int32) ([]SettlementOutbox, error) {
	rows, err := q.db.Query(ctx, listPendingOutbox, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SettlementOutbox
	for rows.Next() {
		o, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

const markOutboxPosted = `
UPDATE settlement_outbox
SET posted_at = now()
WHERE order_id = $1 AND posted_at IS NULL
`

func (q *Queries) MarkOutboxPosted(ctx context.Context, orderID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, markOutboxPosted, orderID)
	return tag.RowsAffected(), err
}

const bumpOutboxAttempts = `
UPDATE settlement_outbox
SET attempts = attempts + 1
WHERE order_id = $1
`

func (q *Queries) BumpOutboxAttempts(ctx context.Context, orderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, bumpOutboxAttempts, orderID)
	return err
}

const deleteOutbox = `
DELETE FROM settlement_outbox WHERE order_id = $1
`

func (q *Queries) DeleteOutbox(ctx context.Context, orderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteOutbox, orderID)
	return err
}

func scanOutbox(row pgx.Row) (SettlementOutbox, error) {
	var o SettlementOutbox
	err := row.Scan(&o.OrderID, &o.SessionID, &o.Description, &o.Attempts, &o.PostedAt, &o.CreatedAt)
	return o, err
}

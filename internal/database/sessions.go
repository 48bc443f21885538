package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const createRegisterSession = `
INSERT INTO register_sessions (store_id, status, initial_value, opened_by)
VALUES ($1, 'OPEN', $2, $3)
RETURNING id, store_id, status, initial_value, opened_by, opened_at, closed_at
`

type CreateRegisterSessionParams struct {
	StoreID      uuid.UUID
	InitialValue pgtype.Numeric
	OpenedBy     uuid.UUID
}

// CreateRegisterSession relies on the partial unique index
// register_sessions_one_open_per_store: a second concurrent open fails with
// SQLSTATE 23505 instead of racing the check-then-act read.
func (q *Queries) CreateRegisterSession(ctx context.Context, arg CreateRegisterSessionParams) (RegisterSession, error) {
	row := q.db.QueryRow(ctx, createRegisterSession, arg.StoreID, arg.InitialValue, arg.OpenedBy)
	return scanSession(row)
}

const getOpenSession = `
SELECT id, store_id, status, initial_value, opened_by, opened_at, closed_at
FROM register_sessions
WHERE store_id = $1 AND status = 'OPEN'
`

func (q *Queries) GetOpenSession(ctx context.Context, storeID uuid.UUID) (RegisterSession, error) {
	row := q.db.QueryRow(ctx, getOpenSession, storeID)
	return scanSession(row)
}

const getSession = `
SELECT id, store_id, status, initial_value, opened_by, opened_at, closed_at
FROM register_sessions
WHERE id = $1
`

func (q *Queries) GetSession(ctx context.Context, id uuid.UUID) (RegisterSession, error) {
	row := q.db.QueryRow(ctx, getSession, id)
	return scanSession(row)
}

const closeSession = `
UPDATE register_sessions
SET status = 'CLOSED', closed_at = now()
WHERE id = $1 AND status = 'OPEN'
RETURNING id, store_id, status, initial_value, opened_by, opened_at, closed_at
`

func (q *Queries) CloseSession(ctx context.Context, id uuid.UUID) (RegisterSession, error) {
	row := q.db.QueryRow(ctx, closeSession, id)
	return scanSession(row)
}

const createCashTransaction = `
INSERT INTO cash_transactions (session_id, amount, direction, method, originating_order_id, description)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, session_id, amount, direction, method, originating_order_id, description, created_at
`

type CreateCashTransactionParams struct {
	SessionID          uuid.UUID
	Amount             pgtype.Numeric
	Direction          string
	Method             string
	OriginatingOrderID pgtype.UUID
	Description        pgtype.Text
}

func (q *Queries) CreateCashTransaction(ctx context.Context, arg CreateCashTransactionParams) (CashTransaction, error) {
	row := q.db.QueryRow(ctx, createCashTransaction,
		arg.SessionID, arg.Amount, arg.Direction, arg.Method, arg.OriginatingOrderID, arg.Description)
	return scanCashTransaction(row)
}

const listCashTransactionsBySession = `
SELECT id, session_id, amount, direction, method, originating_order_id, description, created_at
FROM cash_transactions
WHERE session_id = $1
ORDER BY created_at
`

func (q *Queries) ListCashTransactionsBySession(ctx context.Context, sessionID uuid.UUID) ([]CashTransaction, error) {
	rows, err := q.db.Query(ctx, listCashTransactionsBySession, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CashTransaction
	for rows.Next() {
		t, err := scanCashTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const countCashTransactionsByOrder = `
SELECT COUNT(*) FROM cash_transactions WHERE originating_order_id = $1
`

func (q *Queries) CountCashTransactionsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countCashTransactionsByOrder, orderID).Scan(&n)
	return n, err
}

const deleteCashTransactionsByOrder = `
DELETE FROM cash_transactions WHERE originating_order_id = $1
`

// DeleteCashTransactionsByOrder removes every entry tagged with the order id.
// Zero rows affected is fine: reversal is idempotent.
func (q *Queries) DeleteCashTransactionsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteCashTransactionsByOrder, orderID)
	return tag.RowsAffected(), err
}

const sumCashTransactionsBySession = `
SELECT COALESCE(SUM(CASE WHEN direction = 'IN' THEN amount ELSE -amount END), 0)::numeric
FROM cash_transactions
WHERE session_id = $1
`

func (q *Queries) SumCashTransactionsBySession(ctx context.Context, sessionID uuid.UUID) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	err := q.db.QueryRow(ctx, sumCashTransactionsBySession, sessionID).Scan(&n)
	return n, err
}

func scanSession(row pgx.Row) (RegisterSession, error) {
	var s RegisterSession
	err := row.Scan(&s.ID, &s.StoreID, &s.Status, &s.InitialValue, &s.OpenedBy, &s.OpenedAt, &s.ClosedAt)
	return s, err
}

func scanCashTransaction(row pgx.Row) (CashTransaction, error) {
	var t CashTransaction
	err := row.Scan(&t.ID, &t.SessionID, &t.Amount, &t.Direction, &t.Method,
		&t.OriginatingOrderID, &t.Description, &t.CreatedAt)
	return t, err
}

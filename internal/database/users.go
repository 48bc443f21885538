package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const getUserByEmail = `
SELECT id, store_id, name, email, password_hash, role, active, created_at
FROM users
WHERE email = $1 AND active = true
`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRow(ctx, getUserByEmail, email)
	return scanUser(row)
}

const getUser = `
SELECT id, store_id, name, email, password_hash, role, active, created_at
FROM users
WHERE id = $1
`

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRow(ctx, getUser, id)
	return scanUser(row)
}

const createUser = `
INSERT INTO users (store_id, name, email, password_hash, role)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, store_id, name, email, password_hash, role, active, created_at
`

type CreateUserParams struct {
	StoreID      uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Role         string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, createUser, arg.StoreID, arg.Name, arg.Email, arg.PasswordHash, arg.Role)
	return scanUser(row)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.StoreID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	return u, err
}

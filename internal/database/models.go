package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID           uuid.UUID
	StoreID      uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
}

type Client struct {
	ID        uuid.UUID
	StoreID   uuid.UUID
	Name      string
	Phone     pgtype.Text
	Email     pgtype.Text
	CreatedAt time.Time
}

type Product struct {
	ID        uuid.UUID
	StoreID   uuid.UUID
	Name      string
	Price     pgtype.Numeric
	Stock     int32
	Version   int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductVariation is one stock-bearing slot of a product. Position 0 is the
// base slot; positions 1-3 may borrow from it (shared-stock fallback).
type ProductVariation struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Position  int32
	Name      string
	Stock     int32
}

type Order struct {
	ID                  uuid.UUID
	StoreID             uuid.UUID
	ClientID            pgtype.UUID
	Kind                string
	Status              string
	Total               pgtype.Numeric
	Discount            pgtype.Numeric
	CashLaunched        bool
	CashLaunchSessionID pgtype.UUID
	Version             int32
	CreatedBy           uuid.UUID
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type OrderItem struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	ProductID    uuid.UUID
	VariationID  pgtype.UUID
	Quantity     int32
	UnitPrice    pgtype.Numeric
	LineDiscount pgtype.Numeric
}

type Payment struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	Method       string
	MethodCode   string
	Amount       pgtype.Numeric
	ChangeAmount pgtype.Numeric
	CreatedAt    time.Time
}

// StockMovement is append-only: one row per applied stock delta.
type StockMovement struct {
	ID               uuid.UUID
	StoreID          uuid.UUID
	ProductID        uuid.UUID
	VariationID      pgtype.UUID
	Direction        string
	Quantity         int32
	Reason           string
	ReferenceOrderID pgtype.UUID
	CreatedAt        time.Time
}

type RegisterSession struct {
	ID           uuid.UUID
	StoreID      uuid.UUID
	Status       string
	InitialValue pgtype.Numeric
	OpenedBy     uuid.UUID
	OpenedAt     time.Time
	ClosedAt     pgtype.Timestamptz
}

// CashTransaction is append-only; reversal deletes by originating order id,
// never edits in place.
type CashTransaction struct {
	ID                 uuid.UUID
	SessionID          uuid.UUID
	Amount             pgtype.Numeric
	Direction          string
	Method             string
	OriginatingOrderID pgtype.UUID
	Description        pgtype.Text
	CreatedAt          time.Time
}

// SettlementOutbox tracks cash-ledger posts that must eventually happen for a
// billed order. One row per order; the reconciler retries until posted.
type SettlementOutbox struct {
	OrderID     uuid.UUID
	SessionID   uuid.UUID
	Description string
	Attempts    int32
	PostedAt    pgtype.Timestamptz
	CreatedAt   time.Time
}

package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/balcao-pos/api/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// MovementStore defines the database methods needed by movement handlers.
// Satisfied by *database.Queries.
type MovementStore interface {
	ListStockMovements(ctx context.Context, arg database.ListStockMovementsParams) ([]database.StockMovement, error)
}

// MovementHandler exposes the stock movement audit log, read-only. Movement
// rows are only ever written by the reconciliation engine.
type MovementHandler struct {
	store MovementStore
}

func NewMovementHandler(store MovementStore) *MovementHandler {
	return &MovementHandler{store: store}
}

// RegisterRoutes registers movement endpoints on the given Chi router.
// Expected to be mounted inside a store-scoped subrouter: /stores/{sid}/stock-movements
func (h *MovementHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
}

type movementResponse struct {
	ID               uuid.UUID `json:"id"`
	StoreID          uuid.UUID `json:"store_id"`
	ProductID        uuid.UUID `json:"product_id"`
	VariationID      *string   `json:"variation_id"`
	Direction        string    `json:"direction"`
	Quantity         int32     `json:"quantity"`
	Reason           string    `json:"reason"`
	ReferenceOrderID *string   `json:"reference_order_id"`
	CreatedAt        time.Time `json:"created_at"`
}

type movementListResponse struct {
	Movements []movementResponse `json:"movements"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// List handles GET /stores/{sid}/stock-movements. Supports product_id and
// order_id filters.
func (h *MovementHandler) List(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r)
	params := database.ListStockMovementsParams{
		StoreID: storeID,
		Limit:   int32(limit),
		Offset:  int32(offset),
	}
	if s := r.URL.Query().Get("product_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product_id"})
			return
		}
		params.ProductID = pgtype.UUID{Bytes: id, Valid: true}
	}
	if s := r.URL.Query().Get("order_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order_id"})
			return
		}
		params.ReferenceOrderID = pgtype.UUID{Bytes: id, Valid: true}
	}

	movements, err := h.store.ListStockMovements(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: list stock movements: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]movementResponse, len(movements))
	for i, m := range movements {
		resp[i] = toMovementResponse(m)
	}
	writeJSON(w, http.StatusOK, movementListResponse{Movements: resp, Limit: limit, Offset: offset})
}

func toMovementResponse(m database.StockMovement) movementResponse {
	resp := movementResponse{
		ID:        m.ID,
		StoreID:   m.StoreID,
		ProductID: m.ProductID,
		Direction: m.Direction,
		Quantity:  m.Quantity,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
	}
	if m.VariationID.Valid {
		s := uuid.UUID(m.VariationID.Bytes).String()
		resp.VariationID = &s
	}
	if m.ReferenceOrderID.Valid {
		s := uuid.UUID(m.ReferenceOrderID.Bytes).String()
		resp.ReferenceOrderID = &s
	}
	return resp
}

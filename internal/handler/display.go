package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/livecache"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const snapshotTTL = 5 * time.Second

// DisplayStore defines the database methods needed to build a display
// snapshot. Satisfied by *database.Queries.
type DisplayStore interface {
	GetOpenSession(ctx context.Context, storeID uuid.UUID) (database.RegisterSession, error)
	SumCashTransactionsBySession(ctx context.Context, sessionID uuid.UUID) (pgtype.Numeric, error)
	CountWorkingOrders(ctx context.Context, storeID uuid.UUID) (int64, error)
}

// DisplayHandler serves the counter display snapshot. Reads go through the
// live cache when one is configured; a cache error is treated as a miss.
type DisplayHandler struct {
	store DisplayStore
	cache livecache.Cache
}

func NewDisplayHandler(store DisplayStore, cache livecache.Cache) *DisplayHandler {
	return &DisplayHandler{store: store, cache: cache}
}

// RegisterRoutes registers display endpoints on the given Chi router.
// Expected to be mounted inside a store-scoped subrouter: /stores/{sid}/display
func (h *DisplayHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Snapshot)
}

// Snapshot handles GET /stores/{sid}/display.
func (h *DisplayHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}

	if snap, hit, err := h.cache.Get(r.Context(), storeID); err == nil && hit {
		writeJSON(w, http.StatusOK, snap)
		return
	} else if err != nil {
		log.Printf("ERROR: display cache get: %v", err)
	}

	snap, err := h.build(r.Context(), storeID)
	if err != nil {
		log.Printf("ERROR: build display snapshot: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := h.cache.Set(r.Context(), storeID, snap, snapshotTTL); err != nil {
		log.Printf("ERROR: display cache set: %v", err)
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *DisplayHandler) build(ctx context.Context, storeID uuid.UUID) (*livecache.Snapshot, error) {
	snap := &livecache.Snapshot{
		StoreID:     storeID,
		Balance:     "0.00",
		GeneratedAt: time.Now().UTC(),
	}

	session, err := h.store.GetOpenSession(ctx, storeID)
	switch {
	case err == nil:
		snap.SessionOpen = true
		sum, err := h.store.SumCashTransactionsBySession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		balance := database.NumericToDecimal(session.InitialValue).Add(database.NumericToDecimal(sum))
		snap.Balance = balance.StringFixed(2)
	case errors.Is(err, pgx.ErrNoRows):
		// No open session; the snapshot just says so.
	default:
		return nil, err
	}

	working, err := h.store.CountWorkingOrders(ctx, storeID)
	if err != nil {
		return nil, err
	}
	snap.WorkingOrders = working
	return snap, nil
}

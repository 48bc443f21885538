package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/balcao-pos/api/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ClientStore defines the database methods needed by client handlers.
// Satisfied by *database.Queries.
type ClientStore interface {
	GetClient(ctx context.Context, arg database.GetClientParams) (database.Client, error)
	ListClients(ctx context.Context, arg database.ListClientsParams) ([]database.Client, error)
}

// ClientHandler handles client endpoints.
type ClientHandler struct {
	store ClientStore
}

func NewClientHandler(store ClientStore) *ClientHandler {
	return &ClientHandler{store: store}
}

// RegisterRoutes registers client endpoints on the given Chi router.
// Expected to be mounted inside a store-scoped subrouter: /stores/{sid}/clients
func (h *ClientHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
}

type clientResponse struct {
	ID        uuid.UUID `json:"id"`
	StoreID   uuid.UUID `json:"store_id"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone"`
	Email     *string   `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type clientListResponse struct {
	Clients []clientResponse `json:"clients"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// List handles GET /stores/{sid}/clients.
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r)
	clients, err := h.store.ListClients(r.Context(), database.ListClientsParams{
		StoreID: storeID,
		Limit:   int32(limit),
		Offset:  int32(offset),
	})
	if err != nil {
		log.Printf("ERROR: list clients: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]clientResponse, len(clients))
	for i, c := range clients {
		resp[i] = toClientResponse(c)
	}
	writeJSON(w, http.StatusOK, clientListResponse{Clients: resp, Limit: limit, Offset: offset})
}

// Get handles GET /stores/{sid}/clients/{id}.
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	clientID, ok := pathID(w, r, "id", "client")
	if !ok {
		return
	}

	client, err := h.store.GetClient(r.Context(), database.GetClientParams{ID: clientID, StoreID: storeID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "client not found"})
			return
		}
		log.Printf("ERROR: get client: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toClientResponse(client))
}

func toClientResponse(c database.Client) clientResponse {
	resp := clientResponse{
		ID:        c.ID,
		StoreID:   c.StoreID,
		Name:      c.Name,
		CreatedAt: c.CreatedAt,
	}
	if c.Phone.Valid {
		resp.Phone = &c.Phone.String
	}
	if c.Email.Valid {
		resp.Email = &c.Email.String
	}
	return resp
}

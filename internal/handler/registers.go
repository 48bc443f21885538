package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/enum"
	"github.com/balcao-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// RegisterStore defines the database methods needed by register handlers.
// Satisfied by *database.Queries.
type RegisterStore interface {
	CreateRegisterSession(ctx context.Context, arg database.CreateRegisterSessionParams) (database.RegisterSession, error)
	GetOpenSession(ctx context.Context, storeID uuid.UUID) (database.RegisterSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (database.RegisterSession, error)
	CloseSession(ctx context.Context, id uuid.UUID) (database.RegisterSession, error)
	ListCashTransactionsBySession(ctx context.Context, sessionID uuid.UUID) ([]database.CashTransaction, error)
	SumCashTransactionsBySession(ctx context.Context, sessionID uuid.UUID) (pgtype.Numeric, error)
	CreateCashTransaction(ctx context.Context, arg database.CreateCashTransactionParams) (database.CashTransaction, error)
}

// RegisterHandler handles register session endpoints.
type RegisterHandler struct {
	store  RegisterStore
	events EventPublisher
}

func NewRegisterHandler(store RegisterStore, events EventPublisher) *RegisterHandler {
	return &RegisterHandler{store: store, events: events}
}

// RegisterRoutes registers register-session endpoints on the given Chi router.
// Expected to be mounted inside a store-scoped subrouter: /stores/{sid}/registers
func (h *RegisterHandler) RegisterRoutes(r chi.Router) {
	r.Post("/open", h.Open)
	r.Post("/close", h.Close)
	r.Get("/current", h.Current)
	r.Post("/current/transactions", h.CreateTransaction)
	r.Get("/{id}/transactions", h.Transactions)
}

// --- Request / Response types ---

type openRegisterRequest struct {
	InitialValue string `json:"initial_value"`
}

type createTransactionRequest struct {
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Description string `json:"description"`
}

type sessionResponse struct {
	ID           uuid.UUID  `json:"id"`
	StoreID      uuid.UUID  `json:"store_id"`
	Status       string     `json:"status"`
	InitialValue string     `json:"initial_value"`
	OpenedBy     uuid.UUID  `json:"opened_by"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at"`
}

// sessionDetailResponse adds the running balance: initial value plus the
// signed sum of the session's transactions.
type sessionDetailResponse struct {
	sessionResponse
	Balance      string                    `json:"balance"`
	Transactions []cashTransactionResponse `json:"transactions"`
}

type cashTransactionResponse struct {
	ID                 uuid.UUID `json:"id"`
	SessionID          uuid.UUID `json:"session_id"`
	Amount             string    `json:"amount"`
	Direction          string    `json:"direction"`
	Method             string    `json:"method"`
	OriginatingOrderID *string   `json:"originating_order_id"`
	Description        *string   `json:"description"`
	CreatedAt          time.Time `json:"created_at"`
}

// --- Handlers ---

// Open handles POST /stores/{sid}/registers/open. The one-open-session-per-
// store invariant is enforced by a partial unique index; a concurrent second
// open surfaces as a unique violation, not a racy read.
func (h *RegisterHandler) Open(w http.ResponseWriter, r *http.Request) {
	storeID, claims, ok := storeScope(w, r)
	if !ok {
		return
	}

	var req openRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	initial := decimal.Zero
	if req.InitialValue != "" {
		var err error
		initial, err = decimal.NewFromString(req.InitialValue)
		if err != nil || initial.IsNegative() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid initial_value"})
			return
		}
	}

	session, err := h.store.CreateRegisterSession(r.Context(), database.CreateRegisterSessionParams{
		StoreID:      storeID,
		InitialValue: database.DecimalToNumeric(initial),
		OpenedBy:     claims.UserID,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a register session is already open for this store"})
			return
		}
		log.Printf("ERROR: open register session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := toSessionResponse(session)
	publishEvent(h.events, storeID, ws.EventRegisterOpened, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// Close handles POST /stores/{sid}/registers/close.
func (h *RegisterHandler) Close(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}

	open, err := h.store.GetOpenSession(r.Context(), storeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no open register session"})
			return
		}
		log.Printf("ERROR: get open session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	closed, err := h.store.CloseSession(r.Context(), open.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a close race; the session is closed either way.
			writeJSON(w, http.StatusConflict, map[string]string{"error": "session already closed"})
			return
		}
		log.Printf("ERROR: close session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := toSessionResponse(closed)
	publishEvent(h.events, storeID, ws.EventRegisterClosed, resp)
	writeJSON(w, http.StatusOK, resp)
}

// Current handles GET /stores/{sid}/registers/current: the open session with
// its transactions and running balance.
func (h *RegisterHandler) Current(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}

	session, err := h.store.GetOpenSession(r.Context(), storeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no open register session"})
			return
		}
		log.Printf("ERROR: get open session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.writeSessionDetail(w, r, session)
}

// CreateTransaction handles POST /stores/{sid}/registers/current/transactions:
// a manual cash movement (withdrawal or supply) on the open session. Carries
// no order reference; those entries come from settlement only.
func (h *RegisterHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}

	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Direction != enum.MovementDirectionIn && req.Direction != enum.MovementDirectionOut {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "direction must be IN or OUT"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
		return
	}

	session, err := h.store.GetOpenSession(r.Context(), storeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no open register session"})
			return
		}
		log.Printf("ERROR: get open session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	var desc pgtype.Text
	if req.Description != "" {
		desc = pgtype.Text{String: req.Description, Valid: true}
	}
	tx, err := h.store.CreateCashTransaction(r.Context(), database.CreateCashTransactionParams{
		SessionID:   session.ID,
		Amount:      database.DecimalToNumeric(amount),
		Direction:   req.Direction,
		Method:      enum.PaymentMethodCash,
		Description: desc,
	})
	if err != nil {
		log.Printf("ERROR: create cash transaction: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, toCashTransactionResponse(tx))
}

// Transactions handles GET /stores/{sid}/registers/{id}/transactions.
func (h *RegisterHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "id", "session")
	if !ok {
		return
	}

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		log.Printf("ERROR: get session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if session.StoreID != storeID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	h.writeSessionDetail(w, r, session)
}

// --- Helpers ---

func (h *RegisterHandler) writeSessionDetail(w http.ResponseWriter, r *http.Request, session database.RegisterSession) {
	transactions, err := h.store.ListCashTransactionsBySession(r.Context(), session.ID)
	if err != nil {
		log.Printf("ERROR: list cash transactions: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	sum, err := h.store.SumCashTransactionsBySession(r.Context(), session.ID)
	if err != nil {
		log.Printf("ERROR: sum cash transactions: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	balance := database.NumericToDecimal(session.InitialValue).Add(database.NumericToDecimal(sum))
	resp := sessionDetailResponse{
		sessionResponse: toSessionResponse(session),
		Balance:         balance.StringFixed(2),
		Transactions:    make([]cashTransactionResponse, len(transactions)),
	}
	for i, t := range transactions {
		resp.Transactions[i] = toCashTransactionResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toSessionResponse(s database.RegisterSession) sessionResponse {
	resp := sessionResponse{
		ID:           s.ID,
		StoreID:      s.StoreID,
		Status:       s.Status,
		InitialValue: numericToString(s.InitialValue),
		OpenedBy:     s.OpenedBy,
		OpenedAt:     s.OpenedAt,
	}
	if s.ClosedAt.Valid {
		resp.ClosedAt = &s.ClosedAt.Time
	}
	return resp
}

func toCashTransactionResponse(t database.CashTransaction) cashTransactionResponse {
	resp := cashTransactionResponse{
		ID:        t.ID,
		SessionID: t.SessionID,
		Amount:    numericToString(t.Amount),
		Direction: t.Direction,
		Method:    t.Method,
		CreatedAt: t.CreatedAt,
	}
	if t.OriginatingOrderID.Valid {
		s := uuid.UUID(t.OriginatingOrderID.Bytes).String()
		resp.OriginatingOrderID = &s
	}
	if t.Description.Valid {
		resp.Description = &t.Description.String
	}
	return resp
}

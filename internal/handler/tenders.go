package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/enum"
	"github.com/balcao-pos/api/internal/tender"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TenderStore defines the database methods needed by tender handlers.
// Satisfied by *database.Queries.
type TenderStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
}

// TenderHandler drives the payment-collection machine over HTTP. The machine
// itself lives in the request/response bodies: the server validates and
// transforms it, the client carries it between calls. Nothing is persisted
// until the order is finalized.
type TenderHandler struct {
	store TenderStore
}

func NewTenderHandler(store TenderStore) *TenderHandler {
	return &TenderHandler{store: store}
}

// RegisterRoutes registers the machine-advance endpoint.
// Expected to be mounted inside a store-scoped subrouter: /stores/{sid}/tender
func (h *TenderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/advance", h.Advance)
}

// RegisterOrderRoutes registers the per-order seed endpoint. Expected to be
// mounted inside the orders subrouter: /stores/{sid}/orders
func (h *TenderHandler) RegisterOrderRoutes(r chi.Router) {
	r.Post("/{id}/tender", h.Start)
}

// --- Request / Response types ---

type advanceRequest struct {
	Machine    json.RawMessage `json:"machine"`
	Op         string          `json:"op"`
	Method     string          `json:"method"`
	MethodCode string          `json:"method_code"`
	Amount     string          `json:"amount"`
	EntryIndex int             `json:"entry_index"`
}

type machineResponse struct {
	Machine   *tender.Machine `json:"machine"`
	Remaining string          `json:"remaining"`
	Covered   bool            `json:"covered"`
}

// --- Handlers ---

// Start handles POST /stores/{sid}/orders/{id}/tender: a fresh machine seeded
// with the order's total.
func (h *TenderHandler) Start(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id", "order")
	if !ok {
		return
	}

	order, err := h.store.GetOrder(r.Context(), database.GetOrderParams{ID: orderID, StoreID: storeID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order for tender: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	switch order.Status {
	case enum.OrderStatusBilled:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is already billed"})
		return
	case enum.OrderStatusCancelled:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cancelled orders cannot take payments"})
		return
	}

	m := tender.New(database.NumericToDecimal(order.Total))
	writeMachine(w, m)
}

// Advance handles POST /stores/{sid}/tender/advance: one operation applied to
// the machine carried in the body.
func (h *TenderHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Machine) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "machine is required"})
		return
	}

	var m tender.Machine
	if err := json.Unmarshal(req.Machine, &m); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tender machine"})
		return
	}

	var err error
	switch req.Op {
	case "select_method":
		if req.Method == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "method is required"})
			return
		}
		err = m.SelectMethod(req.Method, req.MethodCode)
	case "enter_amount":
		amount, parseErr := decimal.NewFromString(req.Amount)
		if parseErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
			return
		}
		err = m.EnterAmount(amount)
	case "commit":
		err = m.Commit()
	case "confirm_overpay":
		err = m.ConfirmOverpay()
	case "cancel_overpay":
		err = m.CancelOverpay()
	case "add_another":
		err = m.AddAnother()
	case "finalize_partial":
		err = m.FinalizePartial()
	case "remove_entry":
		err = m.RemoveEntry(req.EntryIndex)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown op"})
		return
	}

	if err != nil {
		var te *tender.TransitionError
		if errors.As(err, &te) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeMachine(w, &m)
}

func writeMachine(w http.ResponseWriter, m *tender.Machine) {
	writeJSON(w, http.StatusOK, machineResponse{
		Machine:   m,
		Remaining: m.Remaining().StringFixed(2),
		Covered:   m.Covered(),
	})
}

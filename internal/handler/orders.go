package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/balcao-pos/api/internal/auth"
	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/inventory"
	"github.com/balcao-pos/api/internal/lifecycle"
	"github.com/balcao-pos/api/internal/middleware"
	"github.com/balcao-pos/api/internal/service"
	"github.com/balcao-pos/api/internal/settlement"
	"github.com/balcao-pos/api/internal/tender"
	"github.com/balcao-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
	UpdateItems(ctx context.Context, storeID, orderID uuid.UUID, items []service.OrderItemRequest) (*service.CreateOrderResult, error)
}

// OrderLifecycle defines the controller methods needed by order handlers.
// Satisfied by *lifecycle.Controller.
type OrderLifecycle interface {
	ChangeStatus(ctx context.Context, storeID, orderID uuid.UUID, newStatus string) (database.Order, error)
	Cancel(ctx context.Context, storeID, orderID uuid.UUID) (database.Order, error)
	Reopen(ctx context.Context, storeID, orderID uuid.UUID) (database.Order, error)
	ReverseBilling(ctx context.Context, storeID, orderID uuid.UUID) (database.Order, error)
}

// OrderSettler defines the orchestrator methods needed by order handlers.
// Satisfied by *settlement.Orchestrator.
type OrderSettler interface {
	Finalize(ctx context.Context, storeID, orderID uuid.UUID, m *tender.Machine, description string) (database.Order, error)
}

// OrderStore defines the database methods needed by order read handlers.
// Satisfied by *database.Queries.
type OrderStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc     OrderServicer
	lc      OrderLifecycle
	settler OrderSettler
	store   OrderStore
	events  EventPublisher
}

func NewOrderHandler(svc OrderServicer, lc OrderLifecycle, settler OrderSettler, store OrderStore, events EventPublisher) *OrderHandler {
	return &OrderHandler{svc: svc, lc: lc, settler: settler, store: store, events: events}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside a store-scoped subrouter: /stores/{sid}/orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/items", h.UpdateItems)
	r.Patch("/{id}/status", h.UpdateStatus)
	r.Delete("/{id}", h.Cancel)
	r.Post("/{id}/reopen", h.Reopen)
	r.Post("/{id}/reverse-billing", h.ReverseBilling)
	r.Post("/{id}/finalize", h.Finalize)
}

// --- Request / Response types ---

type createOrderRequest struct {
	ClientID string             `json:"client_id"`
	Kind     string             `json:"kind"`
	Status   string             `json:"status"`
	Discount string             `json:"discount"`
	Items    []orderItemRequest `json:"items"`
}

type orderItemRequest struct {
	ProductID    string `json:"product_id"`
	VariationID  string `json:"variation_id"`
	Quantity     int32  `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	LineDiscount string `json:"line_discount"`
}

type updateItemsRequest struct {
	Items []orderItemRequest `json:"items"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type finalizeRequest struct {
	Machine     json.RawMessage `json:"machine"`
	Description string          `json:"description"`
}

type orderResponse struct {
	ID                  uuid.UUID           `json:"id"`
	StoreID             uuid.UUID           `json:"store_id"`
	ClientID            *string             `json:"client_id"`
	Kind                string              `json:"kind"`
	Status              string              `json:"status"`
	Total               string              `json:"total"`
	Discount            string              `json:"discount"`
	CashLaunched        bool                `json:"cash_launched"`
	CashLaunchSessionID *string             `json:"cash_launch_session_id"`
	Version             int32               `json:"version"`
	CreatedBy           uuid.UUID           `json:"created_by"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	Items               []orderItemResponse `json:"items,omitempty"`
}

type orderItemResponse struct {
	ID           uuid.UUID `json:"id"`
	ProductID    uuid.UUID `json:"product_id"`
	VariationID  *string   `json:"variation_id"`
	Quantity     int32     `json:"quantity"`
	UnitPrice    string    `json:"unit_price"`
	LineDiscount string    `json:"line_discount"`
}

type paymentResponse struct {
	ID           uuid.UUID `json:"id"`
	OrderID      uuid.UUID `json:"order_id"`
	Method       string    `json:"method"`
	MethodCode   string    `json:"method_code"`
	Amount       string    `json:"amount"`
	ChangeAmount string    `json:"change_amount"`
	CreatedAt    time.Time `json:"created_at"`
}

// orderDetailResponse extends orderResponse with payments for the GET detail endpoint.
type orderDetailResponse struct {
	orderResponse
	Payments []paymentResponse `json:"payments"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// --- Handlers ---

// Create handles POST /stores/{sid}/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	storeID, claims, ok := storeScope(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items are required"})
		return
	}

	result, err := h.svc.CreateOrder(r.Context(), service.CreateOrderRequest{
		StoreID:   storeID,
		CreatedBy: claims.UserID,
		ClientID:  req.ClientID,
		Kind:      req.Kind,
		Status:    req.Status,
		Discount:  req.Discount,
		Items:     toServiceItems(req.Items),
	})
	if err != nil {
		writeServiceError(w, "create order", err)
		return
	}

	resp := toOrderResponse(result)
	publishEvent(h.events, storeID, ws.EventOrderCreated, resp)
	publishEvent(h.events, storeID, ws.EventStockReconciled, stockReconciledEvent{OrderID: &result.Order.ID})
	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /stores/{sid}/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r)
	params := database.ListOrdersParams{
		StoreID: storeID,
		Limit:   int32(limit),
		Offset:  int32(offset),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		params.Status = pgtype.Text{String: s, Valid: true}
	}
	if s := r.URL.Query().Get("kind"); s != "" {
		params.Kind = pgtype.Text{String: s, Valid: true}
	}
	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start_date format, use YYYY-MM-DD"})
			return
		}
		params.StartDate = pgtype.Timestamptz{Time: t, Valid: true}
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end_date format, use YYYY-MM-DD"})
			return
		}
		params.EndDate = pgtype.Timestamptz{Time: t, Valid: true}
	}

	orders, err := h.store.ListOrders(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: list orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o)
	}
	writeJSON(w, http.StatusOK, orderListResponse{Orders: resp, Limit: limit, Offset: offset})
}

// Get handles GET /stores/{sid}/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
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
		log.Printf("ERROR: get order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	items, err := h.store.ListOrderItemsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list order items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	payments, err := h.store.ListPaymentsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list payments: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbOrderToResponse(order)
	resp.Items = make([]orderItemResponse, len(items))
	for i, it := range items {
		resp.Items[i] = dbOrderItemToResponse(it)
	}
	paymentResps := make([]paymentResponse, len(payments))
	for i, p := range payments {
		paymentResps[i] = dbPaymentToResponse(p)
	}

	writeJSON(w, http.StatusOK, orderDetailResponse{orderResponse: resp, Payments: paymentResps})
}

// UpdateItems handles PUT /stores/{sid}/orders/{id}/items. The whole item set
// is replaced; stock moves only by the delta against the previous set.
func (h *OrderHandler) UpdateItems(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id", "order")
	if !ok {
		return
	}

	var req updateItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.svc.UpdateItems(r.Context(), storeID, orderID, toServiceItems(req.Items))
	if err != nil {
		writeServiceError(w, "update order items", err)
		return
	}
	resp := toOrderResponse(result)
	publishEvent(h.events, storeID, ws.EventOrderUpdated, resp)
	publishEvent(h.events, storeID, ws.EventStockReconciled, stockReconciledEvent{OrderID: &orderID})
	writeJSON(w, http.StatusOK, resp)
}

// UpdateStatus handles PATCH /stores/{sid}/orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id", "order")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	updated, err := h.lc.ChangeStatus(r.Context(), storeID, orderID, req.Status)
	if err != nil {
		writeLifecycleError(w, "update order status", err)
		return
	}
	resp := dbOrderToResponse(updated)
	publishEvent(h.events, storeID, ws.EventOrderUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles DELETE /stores/{sid}/orders/{id}.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id", "order")
	if !ok {
		return
	}

	cancelled, err := h.lc.Cancel(r.Context(), storeID, orderID)
	if err != nil {
		writeLifecycleError(w, "cancel order", err)
		return
	}
	resp := dbOrderToResponse(cancelled)
	publishEvent(h.events, storeID, ws.EventOrderCancelled, resp)
	publishEvent(h.events, storeID, ws.EventStockReconciled, stockReconciledEvent{OrderID: &orderID})
	writeJSON(w, http.StatusOK, resp)
}

// Reopen handles POST /stores/{sid}/orders/{id}/reopen.
func (h *OrderHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id", "order")
	if !ok {
		return
	}

	reopened, err := h.lc.Reopen(r.Context(), storeID, orderID)
	if err != nil {
		writeLifecycleError(w, "reopen order", err)
		return
	}
	resp := dbOrderToResponse(reopened)
	publishEvent(h.events, storeID, ws.EventOrderUpdated, resp)
	publishEvent(h.events, storeID, ws.EventStockReconciled, stockReconciledEvent{OrderID: &orderID})
	writeJSON(w, http.StatusOK, resp)
}

// ReverseBilling handles POST /stores/{sid}/orders/{id}/reverse-billing.
func (h *OrderHandler) ReverseBilling(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id", "order")
	if !ok {
		return
	}

	reversed, err := h.lc.ReverseBilling(r.Context(), storeID, orderID)
	if err != nil {
		writeLifecycleError(w, "reverse billing", err)
		return
	}
	resp := dbOrderToResponse(reversed)
	publishEvent(h.events, storeID, ws.EventOrderUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

// Finalize handles POST /stores/{sid}/orders/{id}/finalize. The body carries
// the serialized tender machine the client collected payments with.
func (h *OrderHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id", "order")
	if !ok {
		return
	}

	var req finalizeRequest
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

	settled, err := h.settler.Finalize(r.Context(), storeID, orderID, &m, req.Description)
	if err != nil {
		writeSettlementError(w, err)
		return
	}
	resp := dbOrderToResponse(settled)
	publishEvent(h.events, storeID, ws.EventOrderBilled, resp)
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// storeScope extracts the store ID from the path and the caller's claims.
func storeScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, *auth.Claims, bool) {
	storeID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid store ID"})
		return uuid.Nil, nil, false
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return uuid.Nil, nil, false
	}
	return storeID, claims, true
}

func pathID(w http.ResponseWriter, r *http.Request, param, noun string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + noun + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}
	offset = 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func toServiceItems(items []orderItemRequest) []service.OrderItemRequest {
	out := make([]service.OrderItemRequest, len(items))
	for i, it := range items {
		out[i] = service.OrderItemRequest{
			ProductID:    it.ProductID,
			VariationID:  it.VariationID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			LineDiscount: it.LineDiscount,
		}
	}
	return out
}

// writeServiceError maps order service errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case isServiceValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrOrderNotEditable),
		errors.Is(err, service.ErrVersionConflict),
		errors.Is(err, inventory.ErrStockInsufficient):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func isServiceValidationError(err error) bool {
	return errors.Is(err, service.ErrEmptyItems) ||
		errors.Is(err, service.ErrInvalidKind) ||
		errors.Is(err, service.ErrInvalidStatus) ||
		errors.Is(err, service.ErrInvalidQuantity) ||
		errors.Is(err, service.ErrInvalidProductID) ||
		errors.Is(err, service.ErrInvalidVariationID) ||
		errors.Is(err, service.ErrInvalidClientID) ||
		errors.Is(err, service.ErrInvalidDiscount) ||
		errors.Is(err, service.ErrInvalidUnitPrice) ||
		errors.Is(err, service.ErrProductNotFound) ||
		errors.Is(err, inventory.ErrVariationNotFound)
}

// writeLifecycleError maps controller errors to HTTP status codes.
func writeLifecycleError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrAlreadyBilled),
		errors.Is(err, lifecycle.ErrBilledViaStatus),
		errors.Is(err, lifecycle.ErrNotBilled),
		errors.Is(err, lifecycle.ErrNotCancelled),
		errors.Is(err, lifecycle.ErrAlreadyCancelled),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, pgx.ErrNoRows):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// writeSettlementError maps orchestrator errors to HTTP status codes.
func writeSettlementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settlement.ErrNotCovered):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, settlement.ErrNoOpenSession),
		errors.Is(err, settlement.ErrTotalMismatch),
		errors.Is(err, settlement.ErrAlreadyBilled),
		errors.Is(err, settlement.ErrOrderCancelled),
		errors.Is(err, settlement.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, pgx.ErrNoRows):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	default:
		log.Printf("ERROR: finalize order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func toOrderResponse(result *service.CreateOrderResult) orderResponse {
	resp := dbOrderToResponse(result.Order)
	resp.Items = make([]orderItemResponse, len(result.Items))
	for i, it := range result.Items {
		resp.Items[i] = dbOrderItemToResponse(it)
	}
	return resp
}

func dbOrderToResponse(o database.Order) orderResponse {
	resp := orderResponse{
		ID:           o.ID,
		StoreID:      o.StoreID,
		Kind:         o.Kind,
		Status:       o.Status,
		Total:        numericToString(o.Total),
		Discount:     numericToString(o.Discount),
		CashLaunched: o.CashLaunched,
		Version:      o.Version,
		CreatedBy:    o.CreatedBy,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	if o.ClientID.Valid {
		s := uuid.UUID(o.ClientID.Bytes).String()
		resp.ClientID = &s
	}
	if o.CashLaunchSessionID.Valid {
		s := uuid.UUID(o.CashLaunchSessionID.Bytes).String()
		resp.CashLaunchSessionID = &s
	}
	return resp
}

func dbOrderItemToResponse(item database.OrderItem) orderItemResponse {
	resp := orderItemResponse{
		ID:           item.ID,
		ProductID:    item.ProductID,
		Quantity:     item.Quantity,
		UnitPrice:    numericToString(item.UnitPrice),
		LineDiscount: numericToString(item.LineDiscount),
	}
	if item.VariationID.Valid {
		s := uuid.UUID(item.VariationID.Bytes).String()
		resp.VariationID = &s
	}
	return resp
}

func dbPaymentToResponse(p database.Payment) paymentResponse {
	return paymentResponse{
		ID:           p.ID,
		OrderID:      p.OrderID,
		Method:       p.Method,
		MethodCode:   p.MethodCode,
		Amount:       numericToString(p.Amount),
		ChangeAmount: numericToString(p.ChangeAmount),
		CreatedAt:    p.CreatedAt,
	}
}

func numericToString(n pgtype.Numeric) string {
	return database.NumericToDecimal(n).StringFixed(2)
}

package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/enum"
	"github.com/balcao-pos/api/internal/handler"
	"github.com/balcao-pos/api/internal/inventory"
	"github.com/balcao-pos/api/internal/lifecycle"
	"github.com/balcao-pos/api/internal/service"
	"github.com/balcao-pos/api/internal/settlement"
	"github.com/balcao-pos/api/internal/tender"
	"github.com/balcao-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// --- Fakes ---

func makeDBOrder(storeID uuid.UUID, status, total string) database.Order {
	d, _ := decimal.NewFromString(total)
	now := time.Now().UTC()
	return database.Order{
		ID:        uuid.New(),
		StoreID:   storeID,
		Kind:      enum.OrderKindSale,
		Status:    status,
		Total:     database.DecimalToNumeric(d),
		Discount:  database.DecimalToNumeric(decimal.Zero),
		Version:   1,
		CreatedBy: uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type fakeOrderService struct {
	result *service.CreateOrderResult
	err    error
	gotReq service.CreateOrderRequest
}

func (f *fakeOrderService) CreateOrder(_ context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeOrderService) UpdateItems(_ context.Context, _, _ uuid.UUID, _ []service.OrderItemRequest) (*service.CreateOrderResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeLifecycle struct {
	order database.Order
	err   error
}

func (f *fakeLifecycle) ChangeStatus(_ context.Context, _, _ uuid.UUID, newStatus string) (database.Order, error) {
	if f.err != nil {
		return database.Order{}, f.err
	}
	o := f.order
	o.Status = newStatus
	return o, nil
}

func (f *fakeLifecycle) Cancel(_ context.Context, _, _ uuid.UUID) (database.Order, error) {
	if f.err != nil {
		return database.Order{}, f.err
	}
	o := f.order
	o.Status = enum.OrderStatusCancelled
	return o, nil
}

func (f *fakeLifecycle) Reopen(_ context.Context, _, _ uuid.UUID) (database.Order, error) {
	if f.err != nil {
		return database.Order{}, f.err
	}
	o := f.order
	o.Status = enum.OrderStatusDraft
	return o, nil
}

func (f *fakeLifecycle) ReverseBilling(_ context.Context, _, _ uuid.UUID) (database.Order, error) {
	if f.err != nil {
		return database.Order{}, f.err
	}
	o := f.order
	o.Status = enum.OrderStatusOrdered
	o.CashLaunched = false
	return o, nil
}

type fakeSettler struct {
	order database.Order
	err   error
}

func (f *fakeSettler) Finalize(_ context.Context, _, _ uuid.UUID, _ *tender.Machine, _ string) (database.Order, error) {
	if f.err != nil {
		return database.Order{}, f.err
	}
	return f.order, nil
}

type mockOrderStore struct {
	orders   map[uuid.UUID]database.Order
	items    map[uuid.UUID][]database.OrderItem
	payments map[uuid.UUID][]database.Payment
}

func newMockOrderStore() *mockOrderStore {
	return &mockOrderStore{
		orders:   make(map[uuid.UUID]database.Order),
		items:    make(map[uuid.UUID][]database.OrderItem),
		payments: make(map[uuid.UUID][]database.Payment),
	}
}

func (m *mockOrderStore) GetOrder(_ context.Context, arg database.GetOrderParams) (database.Order, error) {
	o, ok := m.orders[arg.ID]
	if !ok || o.StoreID != arg.StoreID {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *mockOrderStore) ListOrders(_ context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
	var out []database.Order
	for _, o := range m.orders {
		if o.StoreID != arg.StoreID {
			continue
		}
		if arg.Status.Valid && o.Status != arg.Status.String {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *mockOrderStore) ListOrderItemsByOrder(_ context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	return m.items[orderID], nil
}

func (m *mockOrderStore) ListPaymentsByOrder(_ context.Context, orderID uuid.UUID) ([]database.Payment, error) {
	return m.payments[orderID], nil
}

type orderRouterDeps struct {
	svc     *fakeOrderService
	lc      *fakeLifecycle
	settler *fakeSettler
	store   *mockOrderStore
	events  *mockPublisher
}

func newOrderRouter(d orderRouterDeps) chi.Router {
	if d.svc == nil {
		d.svc = &fakeOrderService{}
	}
	if d.lc == nil {
		d.lc = &fakeLifecycle{}
	}
	if d.settler == nil {
		d.settler = &fakeSettler{}
	}
	if d.store == nil {
		d.store = newMockOrderStore()
	}
	if d.events == nil {
		d.events = &mockPublisher{}
	}
	h := handler.NewOrderHandler(d.svc, d.lc, d.settler, d.store, d.events)
	return newStoreRouter("/orders", h.RegisterRoutes)
}

func ordersPath(storeID uuid.UUID, suffix string) string {
	return "/stores/" + storeID.String() + "/orders" + suffix
}

// --- Tests ---

func TestCreateOrder(t *testing.T) {
	user := makeTestUser(t)
	order := makeDBOrder(user.StoreID, enum.OrderStatusDraft, "99.80")
	svc := &fakeOrderService{result: &service.CreateOrderResult{
		Order: order,
		Items: []database.OrderItem{{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: uuid.New(),
			Quantity:  2,
			UnitPrice: database.DecimalToNumeric(decimal.RequireFromString("49.90")),
		}},
	}}
	events := &mockPublisher{}
	r := newOrderRouter(orderRouterDeps{svc: svc, events: events})

	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"), authToken(t, user),
		map[string]interface{}{
			"kind": "SALE",
			"items": []map[string]interface{}{
				{"product_id": uuid.NewString(), "quantity": 2},
			},
		})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["status"] != enum.OrderStatusDraft {
		t.Errorf("status: got %v, want DRAFT", resp["status"])
	}
	if resp["total"] != "99.80" {
		t.Errorf("total: got %v, want 99.80", resp["total"])
	}
	items, ok := resp["items"].([]interface{})
	if !ok || len(items) != 1 {
		t.Errorf("items: got %v, want 1 entry", resp["items"])
	}
	if svc.gotReq.StoreID != user.StoreID {
		t.Errorf("service store ID: got %v, want %v", svc.gotReq.StoreID, user.StoreID)
	}
	if svc.gotReq.CreatedBy != user.ID {
		t.Errorf("service created_by: got %v, want %v", svc.gotReq.CreatedBy, user.ID)
	}
	types := events.eventTypes()
	if !hasEventType(types, ws.EventOrderCreated) || !hasEventType(types, ws.EventStockReconciled) {
		t.Errorf("events: got %v, want %s and %s", types, ws.EventOrderCreated, ws.EventStockReconciled)
	}
}

func TestCreateOrder_NoItems(t *testing.T) {
	user := makeTestUser(t)
	r := newOrderRouter(orderRouterDeps{})

	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"), authToken(t, user),
		map[string]interface{}{"kind": "SALE"})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateOrder_StockInsufficient(t *testing.T) {
	user := makeTestUser(t)
	r := newOrderRouter(orderRouterDeps{svc: &fakeOrderService{err: inventory.ErrStockInsufficient}})

	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"), authToken(t, user),
		map[string]interface{}{
			"kind": "SALE",
			"items": []map[string]interface{}{
				{"product_id": uuid.NewString(), "quantity": 500},
			},
		})

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestCreateOrder_ValidationError(t *testing.T) {
	user := makeTestUser(t)
	r := newOrderRouter(orderRouterDeps{svc: &fakeOrderService{err: service.ErrInvalidKind}})

	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"), authToken(t, user),
		map[string]interface{}{
			"kind": "RENTAL",
			"items": []map[string]interface{}{
				{"product_id": uuid.NewString(), "quantity": 1},
			},
		})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestListOrders(t *testing.T) {
	user := makeTestUser(t)
	store := newMockOrderStore()
	a := makeDBOrder(user.StoreID, enum.OrderStatusOrdered, "10.00")
	b := makeDBOrder(user.StoreID, enum.OrderStatusQuote, "20.00")
	store.orders[a.ID] = a
	store.orders[b.ID] = b
	other := makeDBOrder(uuid.New(), enum.OrderStatusOrdered, "30.00")
	store.orders[other.ID] = other
	r := newOrderRouter(orderRouterDeps{store: store})

	rr := doJSON(t, r, "GET", ordersPath(user.StoreID, "/"), authToken(t, user), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	orders, ok := resp["orders"].([]interface{})
	if !ok || len(orders) != 2 {
		t.Errorf("orders: got %v, want 2 entries", resp["orders"])
	}
	if resp["limit"] != float64(20) {
		t.Errorf("limit: got %v, want 20", resp["limit"])
	}
}

func TestListOrders_StatusFilter(t *testing.T) {
	user := makeTestUser(t)
	store := newMockOrderStore()
	a := makeDBOrder(user.StoreID, enum.OrderStatusOrdered, "10.00")
	b := makeDBOrder(user.StoreID, enum.OrderStatusQuote, "20.00")
	store.orders[a.ID] = a
	store.orders[b.ID] = b
	r := newOrderRouter(orderRouterDeps{store: store})

	rr := doJSON(t, r, "GET", ordersPath(user.StoreID, "/?status=QUOTE"), authToken(t, user), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeResponse(t, rr)
	orders, _ := resp["orders"].([]interface{})
	if len(orders) != 1 {
		t.Fatalf("orders: got %d, want 1", len(orders))
	}
	first := orders[0].(map[string]interface{})
	if first["status"] != enum.OrderStatusQuote {
		t.Errorf("status: got %v, want QUOTE", first["status"])
	}
}

func TestGetOrder_WithItemsAndPayments(t *testing.T) {
	user := makeTestUser(t)
	store := newMockOrderStore()
	order := makeDBOrder(user.StoreID, enum.OrderStatusBilled, "50.00")
	store.orders[order.ID] = order
	store.items[order.ID] = []database.OrderItem{{
		ID:        uuid.New(),
		OrderID:   order.ID,
		ProductID: uuid.New(),
		Quantity:  1,
		UnitPrice: database.DecimalToNumeric(decimal.RequireFromString("50.00")),
	}}
	store.payments[order.ID] = []database.Payment{{
		ID:      uuid.New(),
		OrderID: order.ID,
		Method:  enum.PaymentMethodCash,
		Amount:  database.DecimalToNumeric(decimal.RequireFromString("50.00")),
	}}
	r := newOrderRouter(orderRouterDeps{store: store})

	rr := doJSON(t, r, "GET", ordersPath(user.StoreID, "/"+order.ID.String()), authToken(t, user), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	items, _ := resp["items"].([]interface{})
	if len(items) != 1 {
		t.Errorf("items: got %d, want 1", len(items))
	}
	payments, _ := resp["payments"].([]interface{})
	if len(payments) != 1 {
		t.Fatalf("payments: got %d, want 1", len(payments))
	}
	payment := payments[0].(map[string]interface{})
	if payment["method"] != enum.PaymentMethodCash {
		t.Errorf("payment method: got %v, want CASH", payment["method"])
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	user := makeTestUser(t)
	r := newOrderRouter(orderRouterDeps{})

	rr := doJSON(t, r, "GET", ordersPath(user.StoreID, "/"+uuid.NewString()), authToken(t, user), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestUpdateStatus(t *testing.T) {
	user := makeTestUser(t)
	lc := &fakeLifecycle{order: makeDBOrder(user.StoreID, enum.OrderStatusDraft, "10.00")}
	r := newOrderRouter(orderRouterDeps{lc: lc})

	rr := doJSON(t, r, "PATCH", ordersPath(user.StoreID, "/"+lc.order.ID.String()+"/status"), authToken(t, user),
		map[string]string{"status": enum.OrderStatusOrdered})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["status"] != enum.OrderStatusOrdered {
		t.Errorf("order status: got %v, want ORDERED", resp["status"])
	}
}

func TestUpdateStatus_BilledViaStatusRejected(t *testing.T) {
	user := makeTestUser(t)
	lc := &fakeLifecycle{err: lifecycle.ErrBilledViaStatus}
	r := newOrderRouter(orderRouterDeps{lc: lc})

	rr := doJSON(t, r, "PATCH", ordersPath(user.StoreID, "/"+uuid.NewString()+"/status"), authToken(t, user),
		map[string]string{"status": enum.OrderStatusBilled})

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	user := makeTestUser(t)
	lc := &fakeLifecycle{err: lifecycle.ErrInvalidStatus}
	r := newOrderRouter(orderRouterDeps{lc: lc})

	rr := doJSON(t, r, "PATCH", ordersPath(user.StoreID, "/"+uuid.NewString()+"/status"), authToken(t, user),
		map[string]string{"status": "SHIPPED"})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCancelOrder(t *testing.T) {
	user := makeTestUser(t)
	lc := &fakeLifecycle{order: makeDBOrder(user.StoreID, enum.OrderStatusOrdered, "10.00")}
	events := &mockPublisher{}
	r := newOrderRouter(orderRouterDeps{lc: lc, events: events})

	rr := doJSON(t, r, "DELETE", ordersPath(user.StoreID, "/"+lc.order.ID.String()), authToken(t, user), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["status"] != enum.OrderStatusCancelled {
		t.Errorf("status: got %v, want CANCELLED", resp["status"])
	}
	types := events.eventTypes()
	if !hasEventType(types, ws.EventOrderCancelled) || !hasEventType(types, ws.EventStockReconciled) {
		t.Errorf("events: got %v, want %s and %s", types, ws.EventOrderCancelled, ws.EventStockReconciled)
	}
}

func TestCancelOrder_AlreadyCancelled(t *testing.T) {
	user := makeTestUser(t)
	lc := &fakeLifecycle{err: lifecycle.ErrAlreadyCancelled}
	r := newOrderRouter(orderRouterDeps{lc: lc})

	rr := doJSON(t, r, "DELETE", ordersPath(user.StoreID, "/"+uuid.NewString()), authToken(t, user), nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestReverseBilling(t *testing.T) {
	user := makeTestUser(t)
	billed := makeDBOrder(user.StoreID, enum.OrderStatusBilled, "10.00")
	billed.CashLaunched = true
	lc := &fakeLifecycle{order: billed}
	r := newOrderRouter(orderRouterDeps{lc: lc})

	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"+billed.ID.String()+"/reverse-billing"), authToken(t, user), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["status"] != enum.OrderStatusOrdered {
		t.Errorf("status: got %v, want ORDERED", resp["status"])
	}
	if resp["cash_launched"] != false {
		t.Errorf("cash_launched: got %v, want false", resp["cash_launched"])
	}
}

func TestFinalize(t *testing.T) {
	user := makeTestUser(t)
	billed := makeDBOrder(user.StoreID, enum.OrderStatusBilled, "100.00")
	billed.CashLaunched = true
	settler := &fakeSettler{order: billed}
	events := &mockPublisher{}
	r := newOrderRouter(orderRouterDeps{settler: settler, events: events})

	machine, err := json.Marshal(tender.New(decimal.RequireFromString("100.00")))
	if err != nil {
		t.Fatalf("marshal machine: %v", err)
	}
	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"+billed.ID.String()+"/finalize"), authToken(t, user),
		map[string]interface{}{"machine": json.RawMessage(machine)})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["status"] != enum.OrderStatusBilled {
		t.Errorf("status: got %v, want BILLED", resp["status"])
	}
	if resp["cash_launched"] != true {
		t.Errorf("cash_launched: got %v, want true", resp["cash_launched"])
	}
	if !hasEventType(events.eventTypes(), ws.EventOrderBilled) {
		t.Errorf("events: got %v, want %s", events.eventTypes(), ws.EventOrderBilled)
	}
}

func TestFinalize_MissingMachine(t *testing.T) {
	user := makeTestUser(t)
	r := newOrderRouter(orderRouterDeps{})

	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"+uuid.NewString()+"/finalize"), authToken(t, user),
		map[string]interface{}{"description": "walk-in sale"})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestFinalize_TotalMismatch(t *testing.T) {
	user := makeTestUser(t)
	settler := &fakeSettler{err: settlement.ErrTotalMismatch}
	r := newOrderRouter(orderRouterDeps{settler: settler})

	machine, _ := json.Marshal(tender.New(decimal.RequireFromString("50.00")))
	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"+uuid.NewString()+"/finalize"), authToken(t, user),
		map[string]interface{}{"machine": json.RawMessage(machine)})

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestFinalize_NotCovered(t *testing.T) {
	user := makeTestUser(t)
	settler := &fakeSettler{err: settlement.ErrNotCovered}
	r := newOrderRouter(orderRouterDeps{settler: settler})

	machine, _ := json.Marshal(tender.New(decimal.RequireFromString("100.00")))
	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"+uuid.NewString()+"/finalize"), authToken(t, user),
		map[string]interface{}{"machine": json.RawMessage(machine)})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestFinalize_NoOpenSession(t *testing.T) {
	user := makeTestUser(t)
	settler := &fakeSettler{err: settlement.ErrNoOpenSession}
	r := newOrderRouter(orderRouterDeps{settler: settler})

	machine, _ := json.Marshal(tender.New(decimal.RequireFromString("100.00")))
	rr := doJSON(t, r, "POST", ordersPath(user.StoreID, "/"+uuid.NewString()+"/finalize"), authToken(t, user),
		map[string]interface{}{"machine": json.RawMessage(machine)})

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

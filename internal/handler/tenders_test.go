package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/enum"
	"github.com/balcao-pos/api/internal/handler"
	"github.com/balcao-pos/api/internal/middleware"
	"github.com/balcao-pos/api/internal/tender"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// --- Mock store ---

type mockTenderStore struct {
	orders map[uuid.UUID]database.Order
}

func newMockTenderStore() *mockTenderStore {
	return &mockTenderStore{orders: make(map[uuid.UUID]database.Order)}
}

func (m *mockTenderStore) addOrder(storeID uuid.UUID, status, total string) database.Order {
	d, _ := decimal.NewFromString(total)
	o := database.Order{
		ID:      uuid.New(),
		StoreID: storeID,
		Kind:    enum.OrderKindSale,
		Status:  status,
		Total:   database.DecimalToNumeric(d),
	}
	m.orders[o.ID] = o
	return o
}

func (m *mockTenderStore) GetOrder(_ context.Context, arg database.GetOrderParams) (database.Order, error) {
	o, ok := m.orders[arg.ID]
	if !ok || o.StoreID != arg.StoreID {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

// newTenderRouter mounts both tender surfaces the way the production router
// does: the seed endpoint inside /orders and advance under /tender.
func newTenderRouter(store *mockTenderStore) chi.Router {
	h := handler.NewTenderHandler(store)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(testSecret))
		r.Route("/stores/{sid}", func(r chi.Router) {
			r.Use(middleware.RequireStore)
			r.Route("/orders", h.RegisterOrderRoutes)
			r.Route("/tender", h.RegisterRoutes)
		})
	})
	return r
}

// advance applies one operation to the machine and returns the response body
// plus the machine re-serialized for the next call.
func advance(t *testing.T, r chi.Router, storeID uuid.UUID, token string, machine json.RawMessage, fields map[string]interface{}) (map[string]interface{}, json.RawMessage) {
	t.Helper()
	body := map[string]interface{}{"machine": json.RawMessage(machine)}
	for k, v := range fields {
		body[k] = v
	}
	rr := doJSON(t, r, "POST", "/stores/"+storeID.String()+"/tender/advance", token, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("advance %v status: got %d, want %d; body: %s", fields["op"], rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	next, err := json.Marshal(resp["machine"])
	if err != nil {
		t.Fatalf("re-marshal machine: %v", err)
	}
	return resp, next
}

func startTender(t *testing.T, r chi.Router, storeID uuid.UUID, token string, orderID uuid.UUID) json.RawMessage {
	t.Helper()
	rr := doJSON(t, r, "POST", "/stores/"+storeID.String()+"/orders/"+orderID.String()+"/tender", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start tender status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	machine, err := json.Marshal(resp["machine"])
	if err != nil {
		t.Fatalf("re-marshal machine: %v", err)
	}
	return machine
}

func machineState(t *testing.T, resp map[string]interface{}) string {
	t.Helper()
	m, ok := resp["machine"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected machine object, got %v", resp["machine"])
	}
	state, _ := m["state"].(string)
	return state
}

// --- Tests ---

func TestTenderStart_SeedsMachineWithTotal(t *testing.T) {
	store := newMockTenderStore()
	user := makeTestUser(t)
	order := store.addOrder(user.StoreID, enum.OrderStatusOrdered, "100.00")
	r := newTenderRouter(store)
	token := authToken(t, user)

	rr := doJSON(t, r, "POST", "/stores/"+user.StoreID.String()+"/orders/"+order.ID.String()+"/tender", token, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["remaining"] != "100.00" {
		t.Errorf("remaining: got %v, want 100.00", resp["remaining"])
	}
	if resp["covered"] != false {
		t.Errorf("covered: got %v, want false", resp["covered"])
	}
	if state := machineState(t, resp); state != string(tender.StateIdle) {
		t.Errorf("state: got %s, want %s", state, tender.StateIdle)
	}
}

func TestTenderStart_BilledOrderConflicts(t *testing.T) {
	store := newMockTenderStore()
	user := makeTestUser(t)
	order := store.addOrder(user.StoreID, enum.OrderStatusBilled, "100.00")
	r := newTenderRouter(store)

	rr := doJSON(t, r, "POST", "/stores/"+user.StoreID.String()+"/orders/"+order.ID.String()+"/tender", authToken(t, user), nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestTenderStart_OrderNotFound(t *testing.T) {
	store := newMockTenderStore()
	user := makeTestUser(t)
	r := newTenderRouter(store)

	rr := doJSON(t, r, "POST", "/stores/"+user.StoreID.String()+"/orders/"+uuid.NewString()+"/tender", authToken(t, user), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestTenderAdvance_CashOverpayGivesChange(t *testing.T) {
	store := newMockTenderStore()
	user := makeTestUser(t)
	order := store.addOrder(user.StoreID, enum.OrderStatusOrdered, "100.00")
	r := newTenderRouter(store)
	token := authToken(t, user)

	machine := startTender(t, r, user.StoreID, token, order.ID)
	_, machine = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "select_method", "method": enum.PaymentMethodCash})
	_, machine = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "enter_amount", "amount": "120.00"})
	resp, _ := advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "commit"})

	if resp["covered"] != true {
		t.Errorf("covered: got %v, want true", resp["covered"])
	}
	if resp["remaining"] != "0.00" {
		t.Errorf("remaining: got %v, want 0.00", resp["remaining"])
	}
	if state := machineState(t, resp); state != string(tender.StateCommitted) {
		t.Errorf("state: got %s, want %s", state, tender.StateCommitted)
	}

	m := resp["machine"].(map[string]interface{})
	entries := m["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	entry := entries[0].(map[string]interface{})
	change, _ := decimal.NewFromString(entry["change"].(string))
	if !change.Equal(decimal.RequireFromString("20")) {
		t.Errorf("change: got %v, want 20", entry["change"])
	}
}

func TestTenderAdvance_NonCashOverpayNeedsConfirm(t *testing.T) {
	store := newMockTenderStore()
	user := makeTestUser(t)
	order := store.addOrder(user.StoreID, enum.OrderStatusOrdered, "100.00")
	r := newTenderRouter(store)
	token := authToken(t, user)

	machine := startTender(t, r, user.StoreID, token, order.ID)
	_, machine = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "select_method", "method": enum.PaymentMethodCard})
	_, machine = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "enter_amount", "amount": "120.00"})
	resp, machine := advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "commit"})

	if state := machineState(t, resp); state != string(tender.StateOverpayConfirm) {
		t.Fatalf("state after commit: got %s, want %s", state, tender.StateOverpayConfirm)
	}

	resp, _ = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "confirm_overpay"})
	if resp["covered"] != true {
		t.Errorf("covered: got %v, want true", resp["covered"])
	}
	m := resp["machine"].(map[string]interface{})
	entries := m["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	amount, _ := decimal.NewFromString(entries[0].(map[string]interface{})["amount"].(string))
	if !amount.Equal(decimal.RequireFromString("100")) {
		t.Errorf("applied amount: got %v, want 100 (clamped)", entries[0].(map[string]interface{})["amount"])
	}
}

func TestTenderAdvance_PartialThenAnotherMethod(t *testing.T) {
	store := newMockTenderStore()
	user := makeTestUser(t)
	order := store.addOrder(user.StoreID, enum.OrderStatusOrdered, "100.00")
	r := newTenderRouter(store)
	token := authToken(t, user)

	machine := startTender(t, r, user.StoreID, token, order.ID)
	_, machine = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "select_method", "method": enum.PaymentMethodPix})
	_, machine = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "enter_amount", "amount": "40.00"})
	resp, machine := advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "commit"})

	if state := machineState(t, resp); state != string(tender.StatePartialRemainder) {
		t.Fatalf("state after partial commit: got %s, want %s", state, tender.StatePartialRemainder)
	}
	if resp["remaining"] != "60.00" {
		t.Errorf("remaining: got %v, want 60.00", resp["remaining"])
	}

	_, machine = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "add_another"})
	_, machine = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "select_method", "method": enum.PaymentMethodCash})
	_, machine = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "enter_amount", "amount": "60.00"})
	resp, _ = advance(t, r, user.StoreID, token, machine,
		map[string]interface{}{"op": "commit"})

	if resp["covered"] != true {
		t.Errorf("covered: got %v, want true", resp["covered"])
	}
}

func TestTenderAdvance_WrongStateConflicts(t *testing.T) {
	store := newMockTenderStore()
	user := makeTestUser(t)
	order := store.addOrder(user.StoreID, enum.OrderStatusOrdered, "100.00")
	r := newTenderRouter(store)
	token := authToken(t, user)

	machine := startTender(t, r, user.StoreID, token, order.ID)
	rr := doJSON(t, r, "POST", "/stores/"+user.StoreID.String()+"/tender/advance", token,
		map[string]interface{}{"machine": json.RawMessage(machine), "op": "commit"})

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d; body: %s", rr.Code, http.StatusConflict, rr.Body.String())
	}
}

func TestTenderAdvance_UnknownOp(t *testing.T) {
	store := newMockTenderStore()
	user := makeTestUser(t)
	order := store.addOrder(user.StoreID, enum.OrderStatusOrdered, "100.00")
	r := newTenderRouter(store)
	token := authToken(t, user)

	machine := startTender(t, r, user.StoreID, token, order.ID)
	rr := doJSON(t, r, "POST", "/stores/"+user.StoreID.String()+"/tender/advance", token,
		map[string]interface{}{"machine": json.RawMessage(machine), "op": "teleport"})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestTenderAdvance_MissingMachine(t *testing.T) {
	store := newMockTenderStore()
	user := makeTestUser(t)
	r := newTenderRouter(store)

	rr := doJSON(t, r, "POST", "/stores/"+user.StoreID.String()+"/tender/advance", authToken(t, user),
		map[string]interface{}{"op": "commit"})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

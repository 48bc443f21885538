//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/balcao-pos/api/internal/cashledger"
	"github.com/balcao-pos/api/internal/config"
	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/livecache"
	"github.com/balcao-pos/api/internal/router"
	"github.com/balcao-pos/api/internal/settlement"
	"github.com/balcao-pos/api/internal/ws"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"
)

// TestIntegrationFlow exercises the full settlement cycle against a real
// PostgreSQL database: catalog, register session, order with stock deduction,
// tender collection, finalize, reversal, and cancellation.
func TestIntegrationFlow(t *testing.T) {
	ctx := context.Background()

	pgContainer, connStr, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	cfg := &config.Config{
		Port:        "8081",
		DatabaseURL: connStr,
		JWTSecret:   "integration-test-secret",
	}
	queries := database.New(pool)
	hub := ws.NewHub()
	// NOTE: hub.Run() goroutine leaks on test exit; Hub has no shutdown
	// mechanism. Acceptable for tests.
	go hub.Run()

	ledger := cashledger.NewLedger(queries)
	orchestrator := settlement.NewOrchestrator(pool, queries,
		func(db database.DBTX) settlement.Store {
			return database.New(db)
		}, ledger)

	r := router.New(cfg, queries, pool, hub, livecache.Noop{}, orchestrator)

	server := httptest.NewServer(r)
	defer server.Close()

	// --- 1. Bootstrap store and owner (no public signup surface) ---
	storeID := createStore(t, ctx, pool)
	ownerID := createOwnerUser(t, ctx, pool, storeID)

	// --- 2. Login ---
	token := login(t, server, "owner@test.com", "password123")

	// --- 3. Create a product with stock ---
	productResp := httpPostJSON(t, server, fmt.Sprintf("/stores/%s/products/", storeID), map[string]interface{}{
		"name":  "Camiseta Basica",
		"price": "50.00",
		"stock": 10,
	}, token)
	productID := uuid.MustParse(productResp["id"].(string))

	// --- 4. Open a register session ---
	sessionResp := httpPostJSON(t, server, fmt.Sprintf("/stores/%s/registers/open", storeID), map[string]interface{}{
		"initial_value": "100.00",
	}, token)
	if sessionResp["status"].(string) != "OPEN" {
		t.Fatalf("session status: got %v, want OPEN", sessionResp["status"])
	}

	// --- 5. Create an order: 2 units at 50.00 ---
	orderResp := httpPostJSON(t, server, fmt.Sprintf("/stores/%s/orders/", storeID), map[string]interface{}{
		"kind": "SALE",
		"items": []map[string]interface{}{
			{"product_id": productID.String(), "quantity": 2},
		},
	}, token)
	orderID := uuid.MustParse(orderResp["id"].(string))
	if orderResp["total"].(string) != "100.00" {
		t.Fatalf("order total: got %v, want 100.00", orderResp["total"])
	}

	// Stock deducted on creation, one movement row written.
	assertProductStock(t, server, storeID, productID, token, 8)
	movements := httpGetJSON(t, server, fmt.Sprintf("/stores/%s/stock-movements/?order_id=%s", storeID, orderID), token)
	rows := movements["movements"].([]interface{})
	if len(rows) != 1 {
		t.Fatalf("movements after create: got %d, want 1", len(rows))
	}
	first := rows[0].(map[string]interface{})
	if first["direction"].(string) != "OUT" || first["reason"].(string) != "SALE" {
		t.Fatalf("movement: got %v/%v, want OUT/SALE", first["direction"], first["reason"])
	}

	// --- 6. Collect payment through the tender machine ---
	startResp := httpPostJSON(t, server, fmt.Sprintf("/stores/%s/orders/%s/tender", storeID, orderID), map[string]interface{}{}, token)
	machine := startResp["machine"]

	machine = advanceTender(t, server, storeID, token, machine, map[string]interface{}{
		"op": "select_method", "method": "CASH",
	})
	machine = advanceTender(t, server, storeID, token, machine, map[string]interface{}{
		"op": "enter_amount", "amount": "100.00",
	})
	commitResp := httpPostJSON(t, server, fmt.Sprintf("/stores/%s/tender/advance", storeID), map[string]interface{}{
		"machine": machine, "op": "commit",
	}, token)
	if commitResp["covered"].(bool) != true {
		t.Fatalf("covered after commit: got %v, want true", commitResp["covered"])
	}
	machine = commitResp["machine"]

	// --- 7. Finalize: BILLED plus a cash ledger entry in one settlement ---
	finalResp := httpPostJSON(t, server, fmt.Sprintf("/stores/%s/orders/%s/finalize", storeID, orderID), map[string]interface{}{
		"machine": machine,
	}, token)
	if finalResp["status"].(string) != "BILLED" {
		t.Fatalf("order status after finalize: got %v, want BILLED", finalResp["status"])
	}
	if finalResp["cash_launched"].(bool) != true {
		t.Fatalf("cash_launched after finalize: got %v, want true", finalResp["cash_launched"])
	}

	current := httpGetJSON(t, server, fmt.Sprintf("/stores/%s/registers/current", storeID), token)
	if current["balance"].(string) != "200.00" {
		t.Fatalf("register balance after finalize: got %v, want 200.00", current["balance"])
	}
	transactions := current["transactions"].([]interface{})
	if len(transactions) != 1 {
		t.Fatalf("cash transactions: got %d, want 1", len(transactions))
	}

	detail := httpGetJSON(t, server, fmt.Sprintf("/stores/%s/orders/%s", storeID, orderID), token)
	payments := detail["payments"].([]interface{})
	if len(payments) != 1 {
		t.Fatalf("payments on order: got %d, want 1", len(payments))
	}

	display := httpGetJSON(t, server, fmt.Sprintf("/stores/%s/display/", storeID), token)
	if display["session_open"].(bool) != true {
		t.Fatalf("display session_open: got %v, want true", display["session_open"])
	}
	if display["working_orders"].(float64) != 0 {
		t.Fatalf("display working_orders: got %v, want 0", display["working_orders"])
	}

	// --- 8. Reverse billing: cash entry removed, order editable again ---
	reversed := httpPostJSON(t, server, fmt.Sprintf("/stores/%s/orders/%s/reverse-billing", storeID, orderID), map[string]interface{}{}, token)
	if reversed["cash_launched"].(bool) != false {
		t.Fatalf("cash_launched after reversal: got %v, want false", reversed["cash_launched"])
	}
	current = httpGetJSON(t, server, fmt.Sprintf("/stores/%s/registers/current", storeID), token)
	if current["balance"].(string) != "100.00" {
		t.Fatalf("register balance after reversal: got %v, want 100.00", current["balance"])
	}

	// --- 9. Cancel: stock returns ---
	cancelled := httpDeleteJSON(t, server, fmt.Sprintf("/stores/%s/orders/%s", storeID, orderID), token)
	if cancelled["status"].(string) != "CANCELLED" {
		t.Fatalf("order status after cancel: got %v, want CANCELLED", cancelled["status"])
	}
	assertProductStock(t, server, storeID, productID, token, 10)

	t.Logf("integration flow passed: container=%s, store=%s, owner=%s, product=%s, order=%s",
		pgContainer.GetContainerID(), storeID, ownerID, productID, orderID)
}

// --- Setup helpers ---

func setupPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pos_test"),
		tcpostgres.WithUsername("pos"),
		tcpostgres.WithPassword("pos"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}

	return pgContainer, connStr, cleanup
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db for migrations: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("create migrate driver: %v", err)
	}

	// Path relative to this test file's package directory. Go test sets cwd to
	// the package directory.
	m, err := migrate.NewWithDatabaseInstance(
		"file://../../migrations",
		"postgres", driver)
	if err != nil {
		t.Fatalf("create migrate instance: %v", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("run migrations: %v", err)
	}
}

func createStore(t *testing.T, ctx context.Context, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := pool.QueryRow(ctx,
		`INSERT INTO stores (name) VALUES ($1) RETURNING id`,
		"Loja Teste",
	).Scan(&id)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return id
}

func createOwnerUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool, storeID uuid.UUID) uuid.UUID {
	t.Helper()
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	var id uuid.UUID
	err = pool.QueryRow(ctx,
		`INSERT INTO users (store_id, name, email, password_hash, role, active)
		 VALUES ($1, $2, $3, $4, 'OWNER', true)
		 RETURNING id`,
		storeID, "Test Owner", "owner@test.com", string(hashedPassword),
	).Scan(&id)
	if err != nil {
		t.Fatalf("create owner user: %v", err)
	}
	return id
}

// --- API call helpers ---

func login(t *testing.T, server *httptest.Server, email, password string) string {
	t.Helper()
	resp := httpPostJSON(t, server, "/auth/login", map[string]interface{}{
		"email":    email,
		"password": password,
	}, "")
	token, ok := resp["access_token"].(string)
	if !ok || token == "" {
		t.Fatalf("login failed: no access_token in response: %+v", resp)
	}
	return token
}

func advanceTender(t *testing.T, server *httptest.Server, storeID uuid.UUID, token string, machine interface{}, fields map[string]interface{}) interface{} {
	t.Helper()
	body := map[string]interface{}{"machine": machine}
	for k, v := range fields {
		body[k] = v
	}
	resp := httpPostJSON(t, server, fmt.Sprintf("/stores/%s/tender/advance", storeID), body, token)
	return resp["machine"]
}

func assertProductStock(t *testing.T, server *httptest.Server, storeID, productID uuid.UUID, token string, want float64) {
	t.Helper()
	resp := httpGetJSON(t, server, fmt.Sprintf("/stores/%s/products/%s", storeID, productID), token)
	if resp["stock"].(float64) != want {
		t.Fatalf("product stock: got %v, want %v", resp["stock"], want)
	}
}

// --- HTTP helpers ---

func httpPostJSON(t *testing.T, server *httptest.Server, path string, body map[string]interface{}, token string) map[string]interface{} {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	req, err := http.NewRequest("POST", server.URL+path, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return doRequest(t, req, path)
}

func httpGetJSON(t *testing.T, server *httptest.Server, path string, token string) map[string]interface{} {
	t.Helper()
	req, err := http.NewRequest("GET", server.URL+path, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return doRequest(t, req, path)
}

func httpDeleteJSON(t *testing.T, server *httptest.Server, path string, token string) map[string]interface{} {
	t.Helper()
	req, err := http.NewRequest("DELETE", server.URL+path, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return doRequest(t, req, path)
}

func doRequest(t *testing.T, req *http.Request, path string) map[string]interface{} {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		t.Fatalf("%s %s: status %d, body: %v", req.Method, path, resp.StatusCode, errResp)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return result
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/inventory"
	"github.com/balcao-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ProductStore defines the database methods needed by product handlers.
// Satisfied by *database.Queries.
type ProductStore interface {
	CreateProduct(ctx context.Context, arg database.CreateProductParams) (database.Product, error)
	GetProduct(ctx context.Context, arg database.GetProductParams) (database.Product, error)
	ListProducts(ctx context.Context, arg database.ListProductsParams) ([]database.Product, error)
	UpdateProduct(ctx context.Context, arg database.UpdateProductParams) (database.Product, error)
	CreateVariation(ctx context.Context, arg database.CreateVariationParams) (database.ProductVariation, error)
	ListVariationsByProduct(ctx context.Context, productID uuid.UUID) ([]database.ProductVariation, error)
	UpdateVariation(ctx context.Context, arg database.UpdateVariationParams) (database.ProductVariation, error)
	DeleteVariation(ctx context.Context, id uuid.UUID) (int64, error)
}

// StockAdjuster applies manual stock corrections through the reconciliation
// engine, so adjustments produce movement records like any other delta.
type StockAdjuster interface {
	Adjust(ctx context.Context, storeID, productID, variationID uuid.UUID, qty int32) error
}

// ProductHandler handles product and variation endpoints.
type ProductHandler struct {
	store    ProductStore
	adjuster StockAdjuster
	events   EventPublisher
}

func NewProductHandler(store ProductStore, adjuster StockAdjuster, events EventPublisher) *ProductHandler {
	return &ProductHandler{store: store, adjuster: adjuster, events: events}
}

// RegisterRoutes registers product endpoints on the given Chi router.
// Expected to be mounted inside a store-scoped subrouter: /stores/{sid}/products
func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/adjust", h.Adjust)
	r.Get("/{id}/variations", h.ListVariations)
	r.Post("/{id}/variations", h.CreateVariation)
	r.Put("/{id}/variations/{vid}", h.UpdateVariation)
	r.Delete("/{id}/variations/{vid}", h.DeleteVariation)
}

// --- Request / Response types ---

type productRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int32  `json:"stock"`
}

type adjustStockRequest struct {
	VariationID *string `json:"variation_id"`
	Quantity    int32   `json:"quantity"`
}

type variationRequest struct {
	Position int32  `json:"position"`
	Name     string `json:"name"`
	Stock    int32  `json:"stock"`
}

type productResponse struct {
	ID        uuid.UUID `json:"id"`
	StoreID   uuid.UUID `json:"store_id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Stock     int32     `json:"stock"`
	Version   int32     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type variationResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Position  int32     `json:"position"`
	Name      string    `json:"name"`
	Stock     int32     `json:"stock"`
}

// productDetailResponse extends productResponse with variation slots.
type productDetailResponse struct {
	productResponse
	Variations []variationResponse `json:"variations"`
}

type productListResponse struct {
	Products []productResponse `json:"products"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// --- Handlers ---

// Create handles POST /stores/{sid}/products.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	price, ok := validateProductRequest(w, req)
	if !ok {
		return
	}

	product, err := h.store.CreateProduct(r.Context(), database.CreateProductParams{
		StoreID: storeID,
		Name:    req.Name,
		Price:   database.DecimalToNumeric(price),
		Stock:   req.Stock,
	})
	if err != nil {
		log.Printf("ERROR: create product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

// List handles GET /stores/{sid}/products.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r)
	products, err := h.store.ListProducts(r.Context(), database.ListProductsParams{
		StoreID: storeID,
		Limit:   int32(limit),
		Offset:  int32(offset),
	})
	if err != nil {
		log.Printf("ERROR: list products: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = toProductResponse(p)
	}
	writeJSON(w, http.StatusOK, productListResponse{Products: resp, Limit: limit, Offset: offset})
}

// Get handles GET /stores/{sid}/products/{id}: the product with its slots.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id", "product")
	if !ok {
		return
	}

	product, err := h.store.GetProduct(r.Context(), database.GetProductParams{ID: productID, StoreID: storeID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: get product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	variations, err := h.store.ListVariationsByProduct(r.Context(), productID)
	if err != nil {
		log.Printf("ERROR: list variations: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := productDetailResponse{
		productResponse: toProductResponse(product),
		Variations:      make([]variationResponse, len(variations)),
	}
	for i, v := range variations {
		resp.Variations[i] = toVariationResponse(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Update handles PUT /stores/{sid}/products/{id}. Stock is not writable here:
// it only moves through reconciliation.
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id", "product")
	if !ok {
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	price, ok := validateProductRequest(w, req)
	if !ok {
		return
	}

	product, err := h.store.UpdateProduct(r.Context(), database.UpdateProductParams{
		ID:      productID,
		Name:    req.Name,
		Price:   database.DecimalToNumeric(price),
		StoreID: storeID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: update product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

// Adjust handles POST /stores/{sid}/products/{id}/adjust: a manual stock
// correction. Positive quantity adds stock, negative removes it.
func (h *ProductHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id", "product")
	if !ok {
		return
	}

	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Quantity == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be non-zero"})
		return
	}
	variationID := uuid.Nil
	if req.VariationID != nil {
		var err error
		variationID, err = uuid.Parse(*req.VariationID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid variation_id"})
			return
		}
	}

	// Store ownership check before touching stock.
	if _, err := h.store.GetProduct(r.Context(), database.GetProductParams{ID: productID, StoreID: storeID}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: get product for adjust: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := h.adjuster.Adjust(r.Context(), storeID, productID, variationID, req.Quantity); err != nil {
		switch {
		case errors.Is(err, inventory.ErrStockInsufficient):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "insufficient stock"})
		case errors.Is(err, inventory.ErrVariationNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "variation not found"})
		default:
			log.Printf("ERROR: adjust stock: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	product, err := h.store.GetProduct(r.Context(), database.GetProductParams{ID: productID, StoreID: storeID})
	if err != nil {
		log.Printf("ERROR: get product after adjust: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	publishEvent(h.events, storeID, ws.EventStockReconciled, stockReconciledEvent{ProductID: &productID})
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

// ListVariations handles GET /stores/{sid}/products/{id}/variations.
func (h *ProductHandler) ListVariations(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id", "product")
	if !ok {
		return
	}

	if _, err := h.store.GetProduct(r.Context(), database.GetProductParams{ID: productID, StoreID: storeID}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: get product for variations: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	variations, err := h.store.ListVariationsByProduct(r.Context(), productID)
	if err != nil {
		log.Printf("ERROR: list variations: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	resp := make([]variationResponse, len(variations))
	for i, v := range variations {
		resp[i] = toVariationResponse(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateVariation handles POST /stores/{sid}/products/{id}/variations.
func (h *ProductHandler) CreateVariation(w http.ResponseWriter, r *http.Request) {
	storeID, _, ok := storeScope(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id", "product")
	if !ok {
		return
	}

	var req variationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Position < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "position must be >= 0"})
		return
	}
	if req.Stock < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "stock must be >= 0"})
		return
	}

	// Variations hang off the product; verify it belongs to the store first.
	if _, err := h.store.GetProduct(r.Context(), database.GetProductParams{ID: productID, StoreID: storeID}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: get product for variation: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	variation, err := h.store.CreateVariation(r.Context(), database.CreateVariationParams{
		ProductID: productID,
		Position:  req.Position,
		Name:      req.Name,
		Stock:     req.Stock,
	})
	if err != nil {
		log.Printf("ERROR: create variation: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusCreated, toVariationResponse(variation))
}

// UpdateVariation handles PUT /stores/{sid}/products/{id}/variations/{vid}.
// Only the label changes; slot stock moves through reconciliation.
func (h *ProductHandler) UpdateVariation(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := storeScope(w, r); !ok {
		return
	}
	variationID, ok := pathID(w, r, "vid", "variation")
	if !ok {
		return
	}

	var req variationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	variation, err := h.store.UpdateVariation(r.Context(), database.UpdateVariationParams{
		ID:   variationID,
		Name: req.Name,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "variation not found"})
			return
		}
		log.Printf("ERROR: update variation: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toVariationResponse(variation))
}

// DeleteVariation handles DELETE /stores/{sid}/products/{id}/variations/{vid}.
func (h *ProductHandler) DeleteVariation(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := storeScope(w, r); !ok {
		return
	}
	variationID, ok := pathID(w, r, "vid", "variation")
	if !ok {
		return
	}

	affected, err := h.store.DeleteVariation(r.Context(), variationID)
	if err != nil {
		log.Printf("ERROR: delete variation: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if affected == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "variation not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func validateProductRequest(w http.ResponseWriter, req productRequest) (decimal.Decimal, bool) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return decimal.Zero, false
	}
	price := decimal.Zero
	if req.Price != "" {
		var err error
		price, err = decimal.NewFromString(req.Price)
		if err != nil || price.IsNegative() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price"})
			return decimal.Zero, false
		}
	}
	if req.Stock < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "stock must be >= 0"})
		return decimal.Zero, false
	}
	return price, true
}

func toProductResponse(p database.Product) productResponse {
	return productResponse{
		ID:        p.ID,
		StoreID:   p.StoreID,
		Name:      p.Name,
		Price:     numericToString(p.Price),
		Stock:     p.Stock,
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toVariationResponse(v database.ProductVariation) variationResponse {
	return variationResponse{
		ID:        v.ID,
		ProductID: v.ProductID,
		Position:  v.Position,
		Name:      v.Name,
		Stock:     v.Stock,
	}
}

package router

import (
	"log"
	"net/http"

	"github.com/balcao-pos/api/internal/cashledger"
	"github.com/balcao-pos/api/internal/config"
	"github.com/balcao-pos/api/internal/database"
	"github.com/balcao-pos/api/internal/handler"
	"github.com/balcao-pos/api/internal/inventory"
	"github.com/balcao-pos/api/internal/lifecycle"
	"github.com/balcao-pos/api/internal/livecache"
	mw "github.com/balcao-pos/api/internal/middleware"
	"github.com/balcao-pos/api/internal/service"
	"github.com/balcao-pos/api/internal/settlement"
	"github.com/balcao-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication and store scoping middleware as needed. The
// orchestrator comes from the caller, which shares it with the outbox
// reconciler.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, cache livecache.Cache, orchestrator *settlement.Orchestrator) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Auth routes (public, rate limited)
	rate, err := limiter.NewRateFromFormatted("10-M")
	if err != nil {
		log.Fatalf("invalid auth rate limit: %v", err)
	}
	authLimiter := stdlib.NewMiddleware(limiter.New(memory.NewStore(), rate))
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	r.Group(func(r chi.Router) {
		r.Use(authLimiter.Handler)
		authHandler.RegisterRoutes(r)
	})

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/stores/{sid}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Domain wiring shared across handlers
	engine := inventory.NewEngine(pool, func(db database.DBTX) inventory.Store {
		return database.New(db)
	})
	ledger := cashledger.NewLedger(queries)
	controller := lifecycle.NewController(pool, queries, func(db database.DBTX) lifecycle.TxStore {
		return database.New(db)
	}, engine, ledger)
	orderService := service.NewOrderService(pool,
		func(db database.DBTX) service.OrderStore {
			return database.New(db)
		}, engine)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Store-scoped routes
		r.Route("/stores/{sid}", func(r chi.Router) {
			r.Use(mw.RequireStore)

			productHandler := handler.NewProductHandler(queries, engine, hub)
			r.Route("/products", productHandler.RegisterRoutes)

			clientHandler := handler.NewClientHandler(queries)
			r.Route("/clients", clientHandler.RegisterRoutes)

			orderHandler := handler.NewOrderHandler(orderService, controller, orchestrator, queries, hub)
			tenderHandler := handler.NewTenderHandler(queries)
			r.Route("/orders", func(r chi.Router) {
				orderHandler.RegisterRoutes(r)
				tenderHandler.RegisterOrderRoutes(r)
			})
			r.Route("/tender", tenderHandler.RegisterRoutes)

			registerHandler := handler.NewRegisterHandler(queries, hub)
			r.Route("/registers", registerHandler.RegisterRoutes)

			movementHandler := handler.NewMovementHandler(queries)
			r.Route("/stock-movements", movementHandler.RegisterRoutes)

			displayHandler := handler.NewDisplayHandler(queries, cache)
			r.Route("/display", displayHandler.RegisterRoutes)
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}

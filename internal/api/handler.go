package api

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/events"
	"github.com/punchamoorthee/payledger/internal/service"
	"github.com/punchamoorthee/payledger/internal/store"
)

// Deps wires the handler to the ledger core. Redis is optional and only
// enables per-app rate limiting.
type Deps struct {
	Store              store.Store
	Transfers          *service.TransferService
	Registry           *service.PaymentRequestRegistry
	Gateway            *service.GatewayService
	Hub                *events.Hub
	Redis              *redis.Client
	Logger             *zap.Logger
	JWTSecret          string
	AdminToken         string
	RateLimitPerMinute int
	CORSOrigins        []string
}

type Handler struct {
	store              store.Store
	transfers          *service.TransferService
	registry           *service.PaymentRequestRegistry
	gateway            *service.GatewayService
	hub                *events.Hub
	redis              *redis.Client
	logger             *zap.Logger
	jwtSecret          []byte
	adminToken         string
	rateLimitPerMinute int
	corsOrigins        []string
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		store:              d.Store,
		transfers:          d.Transfers,
		registry:           d.Registry,
		gateway:            d.Gateway,
		hub:                d.Hub,
		redis:              d.Redis,
		logger:             d.Logger,
		jwtSecret:          []byte(d.JWTSecret),
		adminToken:         d.AdminToken,
		rateLimitPerMinute: d.RateLimitPerMinute,
		corsOrigins:        d.CORSOrigins,
	}
}

// Routes builds the full HTTP surface.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(h.instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")
	r.Handle("/ws", h.session(h.WebSocketHandler)).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()

	external := apiV1.PathPrefix("/external").Subrouter()
	external.Use(h.requireAPIKey, h.rateLimit)
	external.HandleFunc("/transfers", h.ExternalTransferHandler).Methods("POST")
	external.HandleFunc("/payment-requests", h.ExternalCreatePaymentRequestHandler).Methods("POST")
	external.HandleFunc("/payment-requests/{token}", h.ExternalGetPaymentRequestHandler).Methods("GET")
	external.HandleFunc("/payment-requests/{token}/fulfill", h.ExternalFulfillPaymentRequestHandler).Methods("POST")
	external.HandleFunc("/verify-reference", h.VerifyReferenceHandler).Methods("GET")

	apiV1.Handle("/transfers", h.session(h.CreateTransferHandler)).Methods("POST")
	apiV1.Handle("/wallets/topup", h.session(h.TopUpHandler)).Methods("POST")
	apiV1.Handle("/wallets/me", h.session(h.GetWalletHandler)).Methods("GET")
	apiV1.Handle("/transactions", h.session(h.ListTransactionsHandler)).Methods("GET")
	apiV1.Handle("/payment-requests", h.session(h.CreatePaymentRequestHandler)).Methods("POST")
	apiV1.Handle("/payment-requests/{token}", h.session(h.GetPaymentRequestHandler)).Methods("GET")
	apiV1.Handle("/payment-requests/{token}/fulfill", h.session(h.FulfillPaymentRequestHandler)).Methods("POST")
	apiV1.Handle("/payment-requests/{token}/cancel", h.session(h.CancelPaymentRequestHandler)).Methods("POST")
	apiV1.Handle("/apps", h.session(h.CreateAppHandler)).Methods("POST")
	apiV1.Handle("/notifications/broadcast", h.requireAdmin(http.HandlerFunc(h.BroadcastHandler))).Methods("POST")

	return cors.Handler(cors.Options{
		AllowedOrigins: h.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-API-Key"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:         300,
	})(r)
}

func (h *Handler) session(f http.HandlerFunc) http.Handler {
	return h.requireSession(f)
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

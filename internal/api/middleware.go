package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/domain"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type contextKey int

const (
	accountKey contextKey = iota
	appKey
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// instrument records request metrics under the matched route template and
// logs each request.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()

		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(start)))
	})
}

// requireSession verifies the HS256 bearer token and stores its subject
// account id in the request context. Websocket clients may pass the token
// as the access_token query parameter instead.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			raw = r.URL.Query().Get("access_token")
		}
		accountID, err := h.parseSession(raw)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid session token")
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) parseSession(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("empty token")
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return h.jwtSecret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(claims.Subject)
}

func accountFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(accountKey).(uuid.UUID)
	return id
}

// requireAPIKey authenticates X-API-Key and stores the app in the context.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app, err := h.gateway.Authenticate(r.Context(), r.Header.Get("X-API-Key"))
		if err != nil {
			h.respondWithDomainError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), appKey, app)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func appFrom(ctx context.Context) *domain.App {
	app, _ := ctx.Value(appKey).(*domain.App)
	return app
}

// rateLimit caps requests per app per minute with a redis counter. Redis
// errors let the request through.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	if h.redis == nil || h.rateLimitPerMinute <= 0 {
		return next
	}
	limit := int64(h.rateLimitPerMinute)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app := appFrom(r.Context())
		if app == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := "payledger:ratelimit:" + app.ID.String()
		count, err := h.redis.Incr(ctx, key).Result()
		if err != nil {
			h.logger.Error("redis error during rate limiting", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			h.redis.Expire(ctx, key, time.Minute)
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		if count > limit {
			ttl, _ := h.redis.TTL(ctx, key).Result()
			h.logger.Warn("app rate limit exceeded",
				zap.Stringer("app_id", app.ID),
				zap.Int64("count", count))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			respondWithError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(limit-count, 10))
		next.ServeHTTP(w, r)
	})
}

// requireAdmin guards operator endpoints with the static ADMIN_TOKEN.
// An unset token disables them.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			respondWithError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

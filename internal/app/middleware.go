package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Tenant and actor headers. Authentication is an upstream concern; by
// the time a request reaches this service a gateway has already
// verified the caller and stamped these headers.
const (
	HeaderBusinessID = "X-Business-ID"
	HeaderActorID    = "X-Actor-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger *slog.Logger
	Config *Config
}

// MiddlewareStack installs the shared middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	limit := 300
	requestTimeout := 30 * time.Second
	if cfg.Config != nil {
		if cfg.Config.RateLimitPerMinute > 0 {
			limit = cfg.Config.RateLimitPerMinute
		}
		if cfg.Config.AppRequestTimeout > 0 {
			requestTimeout = cfg.Config.AppRequestTimeout
		}
	}

	return []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		httprate.LimitByIP(limit, time.Minute),
		secureMiddleware.Handler,
		requestLogger(cfg.Logger),
	}
}

// RequireScope resolves the tenant and actor headers into a request
// scope. Engines never read these headers themselves; they receive the
// scope explicitly.
func RequireScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		businessID, err := strconv.ParseInt(r.Header.Get(HeaderBusinessID), 10, 64)
		if err != nil || businessID <= 0 {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid "+HeaderBusinessID)
			return
		}
		var actorID int64
		if raw := r.Header.Get(HeaderActorID); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				actorID = id
			}
		}
		scope := shared.NewScope(businessID, actorID)
		next.ServeHTTP(w, r.WithContext(shared.ContextWithScope(r.Context(), scope)))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

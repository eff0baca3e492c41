package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/e-id/certilia-oauth/credential"
	"github.com/e-id/certilia-oauth/security"
	"github.com/e-id/certilia-oauth/storage"
)

type contextKey string

const claimsContextKey contextKey = "credential_claims"

// Handler exposes the broker over HTTP.
type Handler struct {
	broker      *Broker
	rateLimiter *security.RateLimiter
	logger      *slog.Logger
}

// NewHandler builds the HTTP layer around a broker.
func NewHandler(b *Broker) *Handler {
	cfg := b.config
	return &Handler{
		broker:      b,
		rateLimiter: security.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, cfg.RateLimitEntries, cfg.Logger),
		logger:      cfg.Logger,
	}
}

// Close stops the handler's background workers.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// Routes builds the broker's route tree.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(security.RequestIDMiddleware)
	r.Use(h.observe)
	r.Use(h.secureHeaders)
	r.Use(h.cors)
	r.Use(h.rateLimit)

	r.Get("/health", h.handleHealth)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/initialize", h.handleInitialize)
		r.Get("/callback", h.handleCallback)
		r.Post("/exchange", h.handleExchange)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/polling/start", h.handlePollingStart)
		r.Get("/polling/{pollingID}/status", h.handlePollingStatus)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Get("/user", h.handleUser)
			r.Get("/user/extended-info", h.handleUserExtendedInfo)
			r.Post("/logout", h.handleLogout)
		})
	})
	return r
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.broker.Initialize(r.Context(), InitializeParams{
		State:       q.Get("state"),
		RedirectURI: q.Get("redirect_uri"),
	}, h.clientIP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := h.broker.HandleCallback(r.Context(), CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	h.writeCallbackPage(w, result)
}

func (h *Handler) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.broker.Exchange(r.Context(), &req, h.clientIP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	pair, err := h.broker.Refresh(r.Context(), req.RefreshToken, h.clientIP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) handlePollingStart(w http.ResponseWriter, r *http.Request) {
	var req StartPollingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.broker.StartPolling(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePollingStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.broker.PollingStatus(r.Context(), chi.URLParam(r, "pollingID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Status == "not_found" {
		status = http.StatusNotFound
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	h.writeJSON(w, http.StatusOK, h.broker.UserInfo(claims))
}

func (h *Handler) handleUserExtendedInfo(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	resp, err := h.broker.ExtendedUserInfo(r.Context(), claims)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	h.writeJSON(w, http.StatusOK, h.broker.Logout(r.Context(), claims))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := &HealthResponse{
		Status:   "ok",
		Provider: h.broker.provider.Name(),
	}
	if err := h.broker.provider.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("provider health check failed", "error", err)
		resp.Status = "degraded"
	}

	stats := map[string]any{}
	if s, ok := h.broker.sessions.(storage.Stats); ok {
		stats["sessions"] = s.SessionStats()
	}
	if s, ok := h.broker.polling.(storage.Stats); ok {
		stats["polling"] = s.PollingStats()
	}
	if len(stats) > 0 {
		resp.Stats = stats
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// authenticate requires a valid access credential and stashes its claims
// in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			h.writeError(w, r, NewAuthenticationError("No token provided"))
			return
		}

		claims, err := h.broker.credentials.Verify(token, credential.TypeAccess)
		if err != nil {
			switch {
			case errors.Is(err, credential.ErrExpired):
				h.writeError(w, r, NewAuthenticationError("Token has expired"))
			case errors.Is(err, credential.ErrWrongType):
				h.writeError(w, r, NewAuthenticationError("Token is not an access token"))
			default:
				h.writeError(w, r, NewAuthenticationError("Invalid token"))
			}
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, map[string]any(claims))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsContextKey).(map[string]any)
	return claims
}

func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w, h.broker.config.ServerURL)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := h.clientIP(r)
		if !h.rateLimiter.Allow(ip) {
			if m := h.broker.metrics(); m != nil {
				m.RecordRateLimitExceeded(r.Context(), "ip")
			}
			w.Header().Set("Retry-After", "1")
			h.writeError(w, r, &Error{
				Code:    "RATE_LIMITED",
				Message: "Too many requests",
				Status:  http.StatusTooManyRequests,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe wraps requests with timing metrics.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := h.broker.metrics()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, sw.status, float64(time.Since(start).Milliseconds()))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.broker.config.TrustProxy, h.broker.config.TrustedProxyCount)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var berr *Error
	if !errors.As(err, &berr) {
		h.logger.Error("unhandled error",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", security.GetRequestID(r.Context()),
			"error", err)
		berr = &Error{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
			Status:  http.StatusInternalServerError,
		}
	}
	h.writeJSON(w, berr.Status, errorEnvelope{Error: errorBody{
		Code:    berr.Code,
		Message: berr.Message,
	}})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return NewValidationError("Invalid JSON body")
	}
	return nil
}

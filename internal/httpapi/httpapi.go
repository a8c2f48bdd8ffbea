package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ulule/limiter/v3"
	memorylimiter "github.com/ulule/limiter/v3/drivers/store/memory"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/service"
	"kasircabang/backend/internal/store"
)

type Options struct {
	AllowedOrigin string
	// Rates use the limiter's "<limit>-<period>" format, e.g. "5-M".
	LoginRate string
	SyncRate  string
	PINRate   string
	Logger    *slog.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *limiter.Limiter
	syncLimiter   *limiter.Limiter
	pinLimiter    *limiter.Limiter
	log           *slog.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) (*API, error) {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	loginLimiter, err := newLimiter(opts.LoginRate, "5-M")
	if err != nil {
		return nil, fmt.Errorf("login rate: %w", err)
	}
	syncLimiter, err := newLimiter(opts.SyncRate, "60-M")
	if err != nil {
		return nil, fmt.Errorf("sync rate: %w", err)
	}
	pinLimiter, err := newLimiter(opts.PINRate, "8-M")
	if err != nil {
		return nil, fmt.Errorf("manager pin rate: %w", err)
	}

	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  loginLimiter,
		syncLimiter:   syncLimiter,
		pinLimiter:    pinLimiter,
		log:           opts.Logger,
	}, nil
}

func newLimiter(formatted string, fallback string) (*limiter.Limiter, error) {
	if strings.TrimSpace(formatted) == "" {
		formatted = fallback
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	return limiter.New(memorylimiter.NewStore(), rate), nil
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(a.securityHeaders)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(a.rateLimit(a.loginLimiter, "login", clientKey)).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth())

			r.Route("/sales", func(r chi.Router) {
				r.Post("/", a.handleCreateSale)
				r.Get("/", a.handleListSales)
				r.Get("/receipt/{receiptNumber}", a.handleGetSaleByReceipt)
				r.Get("/{id}", a.handleGetSale)
			})

			r.Get("/inventory/available", a.handleAvailable)
			r.With(a.requireAuth(domain.RoleAdmin)).Post("/inventory/{id}/adjust", a.handleAdjustInventory)

			r.Get("/pricing/resolve", a.handleResolvePrice)

			r.Post("/members", a.handleCreateMember)
			r.Patch("/members/{id}", a.handleUpdateMember)

			r.Route("/sync", func(r chi.Router) {
				r.With(a.rateLimit(a.syncLimiter, "sync", deviceKey)).Post("/push", a.handleSyncPush)
				r.Post("/pull", a.handleSyncPull)
				r.Get("/status", a.handleSyncStatus)
			})

			r.Route("/ledger", func(r chi.Router) {
				r.With(a.requireAuth(domain.RoleAdmin, domain.RoleManager)).Post("/credit-sale", a.handleCreditSale)
				r.Post("/payment", a.handleLedgerPayment)
				r.With(a.managerApproval).Post("/adjustment", a.handleLedgerAdjustment)
				r.Get("/balance/{resellerId}", a.handleBalance)
				r.Post("/statement", a.handleStatement)
				r.With(a.requireAuth(domain.RoleAdmin, domain.RoleManager)).Get("/aging-report", a.handleAgingReport)
			})

			r.With(a.requireAuth(domain.RoleAdmin)).Route("/users/operators", func(r chi.Router) {
				r.Get("/", a.handleListOperators)
				r.Post("/", a.handleCreateOperator)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMethodNotAllowed(w, r)
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListOperators(w http.ResponseWriter, r *http.Request) {
	operators := a.auth.ListOperators(r.Context(), strings.TrimSpace(r.URL.Query().Get("branchId")))
	writeJSON(w, http.StatusOK, map[string]any{"operators": operators})
}

func (a *API) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req domain.OperatorCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	operator, err := a.auth.CreateOperator(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"operator": operator})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", store.ErrValidation, err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func parseOffset(raw string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

// statusFor maps the store error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch store.Kind(err) {
	case "validation_error", "unknown_sync_entity_type":
		return http.StatusBadRequest
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "internal":
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFor(err), err)
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	kind := store.Kind(err)
	if kind == "internal" || status >= 500 {
		kind = kindForStatus(status)
	}
	msg := err.Error()
	if status >= 500 {
		loggerFrom(r.Context()).ErrorContext(r.Context(), "request failed", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"statusCode": status,
		"error":      kind,
		"message":    msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

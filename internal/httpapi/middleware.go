package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"

	"kasircabang/backend/internal/service"
)

type loggerContextKey struct{}

func loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// requestLogger tags every request with an id and logs its completion.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		logger := a.log.With(
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		w.Header().Set("X-Request-ID", requestID)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), loggerContextKey{}, logger)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.Info("request completed",
			slog.Int("status", status),
			slog.Duration("latency", time.Since(startedAt)),
		)
	})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Manager-PIN, X-Device-ID, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Remaining")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth verifies the bearer token and, when roles are given, the
// actor's role. The actor is stored in the request context.
func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			ctx := service.WithActor(r.Context(), actor)
			ctx = context.WithValue(ctx, loggerContextKey{}, loggerFrom(ctx).With(slog.String("actor", actor.Username)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// rateLimit rejects requests once the bucket chosen by key is exhausted.
func (a *API) rateLimit(l *limiter.Limiter, scope string, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := scope + ":" + key(r)
			lctx, err := l.Get(r.Context(), k)
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, err)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			if lctx.Reached {
				loggerFrom(r.Context()).Warn("rate limit exceeded", slog.String("key", k), slog.Int64("limit", lctx.Limit))
				writeError(w, r, http.StatusTooManyRequests, errors.New("too many requests, please try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// managerApproval checks an X-Manager-PIN header when one is sent and marks
// the request as manager-approved. Requests without the header pass through
// and rely on the actor's own role.
func (a *API) managerApproval(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pin := strings.TrimSpace(r.Header.Get("X-Manager-PIN"))
		if pin == "" {
			next.ServeHTTP(w, r)
			return
		}
		lctx, err := a.pinLimiter.Get(r.Context(), "pin:"+clientKey(r))
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		if lctx.Reached {
			writeError(w, r, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(pin) {
			writeError(w, r, http.StatusForbidden, errors.New("invalid manager pin"))
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithManagerApproval(r.Context())))
	})
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

// deviceKey buckets sync traffic per terminal, falling back to the operator
// and then the client address.
func deviceKey(r *http.Request) string {
	if device := strings.TrimSpace(r.Header.Get("X-Device-ID")); device != "" {
		return "device:" + device
	}
	if actor, ok := service.ActorFromContext(r.Context()); ok {
		return "actor:" + actor.Username
	}
	return "ip:" + clientKey(r)
}

package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/logging"
)

// Context keys
type contextKey string

const claimsContextKey contextKey = "token_claims"

// Identity headers trusted when token auth is disabled, and by admin key callers
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderRole     = "X-Role"
	HeaderAdminKey = "X-Admin-Key"
)

// AuthMiddleware resolves the caller's identity and scope
type AuthMiddleware struct {
	auth         driven.AuthAdapter
	enabled      bool
	adminKeyHash string
}

// NewAuthMiddleware creates a new AuthMiddleware.
// With enabled false, identity is read from the X-Tenant-ID, X-User-ID and X-Role headers.
func NewAuthMiddleware(auth driven.AuthAdapter, enabled bool, adminKeyHash string) *AuthMiddleware {
	return &AuthMiddleware{
		auth:         auth,
		enabled:      enabled,
		adminKeyHash: adminKeyHash,
	}
}

// Authenticate validates the bearer token and adds its claims to the request context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			claims, err := headerClaims(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := m.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireAdmin admits a valid X-Admin-Key or a token carrying the admin claim
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get(HeaderAdminKey); key != "" {
			if m.adminKeyHash == "" || !m.auth.VerifyKey(key, m.adminKeyHash) {
				writeError(w, http.StatusUnauthorized, "invalid admin key")
				return
			}
			claims := &domain.TokenClaims{
				TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
				UserID:   "admin",
				Admin:    true,
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
			return
		}

		if !m.enabled && m.adminKeyHash == "" {
			claims, err := headerClaims(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			claims.Admin = true
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
			return
		}

		if !m.enabled {
			writeError(w, http.StatusUnauthorized, "missing admin key")
			return
		}

		m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims := GetClaims(r.Context()); claims == nil || !claims.Admin {
				writeError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})).ServeHTTP(w, r)
	})
}

// headerClaims builds claims from the identity headers. A missing role stays 0
// so the scope check downstream rejects it instead of defaulting.
func headerClaims(r *http.Request) (*domain.TokenClaims, error) {
	claims := &domain.TokenClaims{
		TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
	}
	if raw := strings.TrimSpace(r.Header.Get(HeaderRole)); raw != "" {
		role, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header", HeaderRole)
		}
		claims.Role = role
	}
	return claims, nil
}

// WithClaims returns ctx carrying claims
func WithClaims(ctx context.Context, claims *domain.TokenClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaims retrieves the token claims from request context
func GetClaims(ctx context.Context) *domain.TokenClaims {
	if ctx == nil {
		return nil
	}
	claims, ok := ctx.Value(claimsContextKey).(*domain.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// extractBearerToken extracts the Bearer token from Authorization header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// Logging middleware

// LoggingMiddleware logs HTTP requests and sets X-Process-Time
type LoggingMiddleware struct {
	logger *zap.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware
func NewLoggingMiddleware(logger *zap.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingMiddleware{logger: logger}
}

// Handler wraps an http.Handler with request logging
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, start: time.Now()}

		next.ServeHTTP(rw, r)

		logger := logging.WithRequest(r.Context(), m.logger)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(rw.start)),
		}
		if claims := GetClaims(r.Context()); claims != nil {
			fields = append(fields, zap.String("tenant_id", claims.TenantID), zap.String("user_id", claims.UserID))
		}
		if rw.statusCode >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Info("request", fields...)
	})
}

// responseWriter captures the status code and stamps X-Process-Time before headers go out
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	start       time.Time
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = code
	rw.Header().Set("X-Process-Time", fmt.Sprintf("%.4fs", time.Since(rw.start).Seconds()))
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

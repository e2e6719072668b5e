package stub

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	dErrors "tradax/pkg/domain-errors"
	"tradax/pkg/platform/httputil"
)

type contextKey string

const (
	ctxRequestID contextKey = "request_id"
	ctxEmail     contextKey = "email"
	ctxToken     contextKey = "token"

	maxRequestIDLength = 128
)

var validRequestID = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func requestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func emailFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxEmail).(string)
	return v
}

func tokenFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxToken).(string)
	return v
}

// recovery turns a handler panic into a 500.
func recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					ctx := r.Context()
					logger.ErrorContext(ctx, "panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
						"request_id", requestIDFrom(ctx),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestID echoes a well-formed X-Request-ID or generates one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxRequestIDLength || !validRequestID.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestID, id)))
	})
}

// requestLogger logs each request with a short description of the calling device.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if strings.Contains(r.URL.Path, "/health") && wrapped.statusCode < http.StatusInternalServerError {
				return
			}
			ctx := r.Context()
			logger.InfoContext(ctx, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestIDFrom(ctx),
				"device", describeDevice(r.UserAgent()),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// describeDevice renders a User-Agent as "Browser on OS". Non-browser clients
// such as the CLI are reported by their product name.
func describeDevice(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		return "Bot"
	}
	browser, _ := ua.Browser()
	os := ua.OS()
	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}
	if os == "" {
		if browser == "" {
			return "Unknown Device"
		}
		return browser
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	return strings.TrimSpace(browser + " on " + os)
}

// requireAuth admits requests carrying a valid, unrevoked bearer token and stores
// the caller's email in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			s.logger.WarnContext(ctx, "unauthorized access - missing token",
				"request_id", requestIDFrom(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
			return
		}

		email, err := s.issuer.Verify(token)
		if err != nil {
			s.logger.WarnContext(ctx, "unauthorized access - invalid token",
				"error", err,
				"request_id", requestIDFrom(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
			return
		}
		if s.state.isRevoked(token) {
			s.logger.WarnContext(ctx, "unauthorized access - token revoked",
				"request_id", requestIDFrom(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Token has been revoked"))
			return
		}

		ctx = context.WithValue(ctx, ctxEmail, email)
		ctx = context.WithValue(ctx, ctxToken, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

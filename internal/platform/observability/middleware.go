package observability

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/doxvl/legalization-api/internal/platform/auth"
	"github.com/doxvl/legalization-api/internal/platform/httpx"
	"github.com/doxvl/legalization-api/internal/platform/requestctx"
)

type middlewareFunc = func(http.Handler) http.Handler

// InjectLoggerMiddleware makes logger the request logger for everything downstream.
func InjectLoggerMiddleware(logger *zap.Logger) middlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware writes one completion entry per request and names the server span after
// the matched route. Raw paths are never logged so confirmation tokens stay out of Cloud Logging.
func RequestLoggerMiddleware(projectID string) middlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := requestLogger(r)
			r = r.WithContext(requestctx.WithLogger(r.Context(), logger))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			panicked := true
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if panicked {
					status = http.StatusInternalServerError
				}
				route := SanitizeRoute(routePattern(r))
				annotateSpan(r.Context(), SanitizeMethod(r.Method), route, status)

				if ce := logger.Check(completionLevel(status), "request completed"); ce != nil {
					ce.Write(
						zap.String("route", route),
						zap.Int("status", status),
						zap.Duration("latency", time.Since(start)),
						zap.Int("bytes", ww.BytesWritten()),
					)
				}
			}()

			next.ServeHTTP(ww, r)
			panicked = false
		})
	}
}

func requestLogger(r *http.Request) *zap.Logger {
	ctx := r.Context()
	info, _ := requestctx.Trace(ctx)
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("trace_id", info.TraceID),
		zap.String("user_id", requesterID(ctx)),
	}
	if info.ProjectID != "" && info.TraceID != "" {
		fields = append(fields, zap.String("logging.googleapis.com/trace",
			"projects/"+info.ProjectID+"/traces/"+info.TraceID))
	}
	if ip := httpx.ClientIP(r); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	return requestctx.Logger(ctx).With(fields...)
}

func completionLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func annotateSpan(ctx context.Context, method, route string, status int) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetName(method + " " + route)
	span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

// RecoveryMiddleware turns a panic into a logged stack trace and a 500 error envelope.
func RecoveryMiddleware(fallback *zap.Logger) middlewareFunc {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger := requestctx.Logger(r.Context())
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requesterID(ctx context.Context) string {
	id, _ := auth.RequesterID(ctx)
	return SanitizeUserID(id)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL == nil {
		return "/"
	}
	return RedactPath(r.URL.Path)
}

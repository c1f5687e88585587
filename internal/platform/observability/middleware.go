package observability

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/freshmarket/api/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

// InjectLoggerMiddleware stores the provided logger on the request context to make it accessible downstream.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestctx.WithLogger(r.Context(), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TraceContextMiddleware extracts Cloud Trace metadata from inbound headers into the request context.
func TraceContextMiddleware(projectID string) func(http.Handler) http.Handler {
	projectID = strings.TrimSpace(projectID)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := parseCloudTraceHeader(r.Header.Get(cloudTraceHeader))
			if ok {
				info.ProjectID = projectID
				r = r.WithContext(requestctx.WithTrace(r.Context(), info))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLoggerMiddleware logs request completion with structured fields suitable for Cloud Logging.
func RequestLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceInfo, _ := requestctx.Trace(ctx)

			logger := WithRequestFields(requestctx.Logger(ctx),
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			if traceInfo.TraceID != "" {
				logger = logger.With(zap.String("trace_id", traceInfo.TraceID))
				if traceInfo.ProjectID != "" {
					logger = logger.With(zap.String("logging.googleapis.com/trace",
						"projects/"+traceInfo.ProjectID+"/traces/"+traceInfo.TraceID))
				}
			}

			ctx = requestctx.WithLogger(ctx, logger)
			r = r.WithContext(ctx)

			recorder := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			var panicked bool
			defer func() {
				latency := time.Since(start)
				status := recorder.Status()
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				if status == 0 {
					status = http.StatusOK
				}

				if span := trace.SpanFromContext(ctx); span != nil {
					span.SetAttributes(
						attribute.Int("http.response.status_code", status),
						attribute.String("http.route", routePattern(r)),
					)
					if status >= http.StatusInternalServerError {
						span.SetStatus(otelcodes.Error, strconv.Itoa(status))
					}
				}

				fields := []zap.Field{
					zap.Int("status", status),
					zap.Duration("latency", latency),
					zap.Int("bytes", recorder.BytesWritten()),
				}

				switch {
				case panicked:
					fields = append(fields, zap.ByteString("stack", debug.Stack()))
					logger.Error("request panicked", fields...)
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()

			func() {
				defer func() {
					if rec := recover(); rec != nil {
						panicked = true
						if recorder.Status() == 0 {
							http.Error(recorder, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
						}
					}
				}()
				next.ServeHTTP(recorder, r)
			}()
		})
	}
}

// parseCloudTraceHeader splits the "TRACE_ID/SPAN_ID;o=1" form used by Google load balancers.
func parseCloudTraceHeader(header string) (requestctx.TraceInfo, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return requestctx.TraceInfo{}, false
	}

	var info requestctx.TraceInfo
	rest := header
	if idx := strings.Index(rest, ";"); idx >= 0 {
		opts := rest[idx+1:]
		rest = rest[:idx]
		info.Sampled = strings.Contains(opts, "o=1")
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		info.SpanID = strings.TrimSpace(rest[idx+1:])
		rest = rest[:idx]
	}
	info.TraceID = strings.TrimSpace(rest)
	if info.TraceID == "" {
		return requestctx.TraceInfo{}, false
	}
	return info, true
}

func routePattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

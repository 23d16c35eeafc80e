package observability

import (
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/doxvl/legalization-api/internal/platform/requestctx"
)

// cloudTraceHeader is set by the Google front end: TRACE_ID/SPAN_ID;o=OPTIONS with a decimal span id.
const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/doxvl/legalization-api/internal/platform/observability")

// TraceMiddleware continues the caller's Cloud Trace context in a server span and records the
// resulting ids on the request context. The span is renamed to the route once routing completes.
func TraceMiddleware(projectID string) middlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			path := "/"
			if r.URL != nil && r.URL.Path != "" {
				path = RedactPath(r.URL.Path)
			}
			ctx, span := tracer.Start(ctx, SanitizeMethod(r.Method)+" "+path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r, path)...),
			)
			defer span.End()

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			if sc.IsValid() {
				w.Header().Set(cloudTraceHeader, formatCloudTraceHeader(sc))
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

func parseCloudTraceContext(header string) (trace.SpanContext, bool) {
	traceHex, rest, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	for _, option := range strings.Split(options, ";") {
		if strings.TrimSpace(option) == "o=1" {
			flags = trace.FlagsSampled
		}
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

// parseSpanID accepts the documented decimal form and, for older proxies, 16 hex digits.
func parseSpanID(value string) (trace.SpanID, bool) {
	var id trace.SpanID
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		for i := 7; i >= 0; i-- {
			id[i] = byte(n)
			n >>= 8
		}
		return id, id.IsValid()
	}
	if len(value) == 16 {
		if parsed, err := trace.SpanIDFromHex(value); err == nil {
			return parsed, true
		}
	}
	return id, false
}

func formatCloudTraceHeader(sc trace.SpanContext) string {
	id := sc.SpanID()
	var n uint64
	for _, b := range id {
		n = n<<8 | uint64(b)
	}
	sampled := "0"
	if sc.IsSampled() {
		sampled = "1"
	}
	return sc.TraceID().String() + "/" + strconv.FormatUint(n, 10) + ";o=" + sampled
}

func requestAttributes(r *http.Request, path string) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(SanitizeMethod(r.Method)),
		semconv.URLScheme(scheme),
		semconv.URLPath(path),
	}
	if r.Host != "" {
		attrs = append(attrs, semconv.ServerAddress(r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginal(ua))
	}
	return attrs
}

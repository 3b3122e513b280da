package http

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/idempotency"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"github.com/robertarktes/ticketing-events/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	userKey
)

// UserHeader carries the authenticated caller, set by the gateway in front of
// the services.
const UserHeader = "X-User-ID"

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return observability.NewNopLogger()
}

// CurrentUserMiddleware reads the caller from UserHeader. A missing or
// malformed header leaves the request anonymous.
func CurrentUserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := uuid.Parse(r.Header.Get(UserHeader)); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), userKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(r.Context()); !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Errors: []errorItem{{Message: "Not authorized"}}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userKey).(uuid.UUID)
	return id, ok
}

func RateLimitMiddleware(rl *rateLimit.RateLimiter, perUser, perIP int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := rl.Allow(r.Context(), "ip:"+clientIP(r), perIP, time.Minute)
			if userID, ok := currentUser(r.Context()); ok && allowed {
				allowed = rl.Allow(r.Context(), "user:"+userID.String(), perUser, time.Minute)
			}
			if !allowed {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Errors: []errorItem{{Message: "Rate limit exceeded"}}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key on POST and PUT. Requests without the header pass through.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut) {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) < 16 {
				writeFieldErrors(w, errorItem{Message: "invalid Idempotency-Key", Field: "Idempotency-Key"})
				return
			}
			if userID, ok := currentUser(r.Context()); ok {
				key = userID.String() + ":" + key
			}

			outcome, stored, err := idemp.Claim(r.Context(), key)
			if err != nil {
				loggerFrom(r.Context()).WithError(err).Warn("idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			}
			switch outcome {
			case idempotency.Replay:
				w.Header().Set("Content-Type", stored.ContentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				w.Write(stored.Result)
				return
			case idempotency.InFlight:
				writeJSON(w, http.StatusConflict, errorBody{Errors: []errorItem{{Message: "A request with this Idempotency-Key is in progress"}}})
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var body bytes.Buffer
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			if ww.Status() >= http.StatusInternalServerError {
				_ = idemp.Release(r.Context(), key)
				return
			}
			err = idemp.Save(r.Context(), key, idempotency.Response{
				Status:      ww.Status(),
				ContentType: ww.Header().Get("Content-Type"),
				Result:      body.Bytes(),
			})
			if err != nil {
				loggerFrom(r.Context()).WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MetricsMiddleware counts requests by route pattern, so ids in paths do not
// explode the label set.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

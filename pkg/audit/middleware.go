package audit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/observability"
)

type contextKey string

const originKey contextKey = "audit_origin"

// WithOrigin attaches the request origin to ctx
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey, o)
}

// OriginFromContext returns the origin attached by WithOrigin, or the zero Origin
func OriginFromContext(ctx context.Context) Origin {
	if o, ok := ctx.Value(originKey).(Origin); ok {
		return o
	}
	return Origin{}
}

// CaptureOrigin records the caller's address, user agent and request id on the
// request context so records written while serving it carry them.
func CaptureOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := observability.GetRequestID(r.Context())
		if requestID == "" {
			requestID = r.Header.Get("X-Request-ID")
		}
		ctx := WithOrigin(r.Context(), Origin{
			RequestID: requestID,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	// first hop of X-Forwarded-For is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package api

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/okian/greenpoints/pkg/logger"
	"github.com/okian/greenpoints/pkg/metrics"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFrom returns the request id stored by RequestID, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID reuses an inbound X-Request-ID or mints a uuid, echoes it on the
// response and stores it in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// MetricsMiddleware records request count and latency under endpoint.
func MetricsMiddleware(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			metrics.RecordHTTPRequest(endpoint, r.Method, strconv.Itoa(wrapped.statusCode),
				float64(time.Since(start).Microseconds())/1000)
		})
	}
}

// AccessLog logs one line per request at debug level, server errors at warn.
func AccessLog(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			fields := []logger.Field{
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", wrapped.statusCode),
				logger.Duration("took", time.Since(start)),
				logger.String("request_id", RequestIDFrom(r.Context())),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				log.Warn(r.Context(), "request failed", fields...)
				return
			}
			log.Debug(r.Context(), "request", fields...)
		})
	}
}

// responseWriter captures the status code written by the handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RateLimiter hands every client its own token bucket. A client is the
// request's peer address unless the peer is a trusted proxy.
type RateLimiter struct {
	perMinute float64
	burst     int
	idleTTL   time.Duration
	now       func() time.Time
	trusted   []netip.Prefix

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithTrustedProxies honors X-Real-IP and X-Forwarded-For only on requests
// whose peer matches one of entries (IP addresses or CIDR prefixes).
// Unparsable entries are ignored.
func WithTrustedProxies(entries ...string) RateLimiterOption {
	return func(rl *RateLimiter) {
		for _, e := range entries {
			e = strings.TrimSpace(e)
			if p, err := netip.ParsePrefix(e); err == nil {
				rl.trusted = append(rl.trusted, p.Masked())
				continue
			}
			if a, err := netip.ParseAddr(e); err == nil {
				a = a.Unmap()
				rl.trusted = append(rl.trusted, netip.PrefixFrom(a, a.BitLen()))
			}
		}
	}
}

// NewRateLimiter allows perMinute requests per client with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute float64, burst int, opts ...RateLimiterOption) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		perMinute: perMinute,
		burst:     burst,
		idleTTL:   5 * time.Minute,
		now:       time.Now,
		visitors:  make(map[string]*visitor),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether client may proceed now.
func (rl *RateLimiter) Allow(client string) bool {
	if rl == nil || rl.perMinute <= 0 {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	v, ok := rl.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.perMinute/60), rl.burst)}
		rl.visitors[client] = v
	}
	v.lastSeen = now
	rl.evictIdle(now)
	rl.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// evictIdle must be called with rl.mu held. It sweeps at most once per TTL.
func (rl *RateLimiter) evictIdle(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.idleTTL {
		return
	}
	rl.lastSweep = now
	for id, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, id)
		}
	}
}

// Middleware rejects over-limit clients with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.ClientID(r)) {
			writeError(w, NewKind("api.rate_limit", ErrRateLimited))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientID identifies the client a request is counted against. Forwarding
// headers are only read when the peer is a trusted proxy, so clients cannot
// pick their own identity.
func (rl *RateLimiter) ClientID(r *http.Request) string {
	peer := remoteHost(r)
	if rl == nil || !rl.trustedPeer(peer) {
		return peer
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	return peer
}

func (rl *RateLimiter) trustedPeer(peer string) bool {
	if len(rl.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

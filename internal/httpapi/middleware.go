package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// auth enforces the control password when one is configured. The password is
// accepted from the X-Control-Password header or the password query
// parameter; comparison is constant-time.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ControlPassword == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-Control-Password")
		if got == "" {
			got = r.URL.Query().Get("password")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.ControlPassword)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or wrong control password")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bodyLimit caps request bodies. Oversized bodies fail the JSON decode with a
// MaxBytesError, which the handlers map to 413.
func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the per-client, per-route request budget.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r) + "|" + r.Method + " " + r.URL.Path
		if !s.limiter.allow(key) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "request budget for this route exhausted, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the remote IP, tolerating addresses without a port.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}

// ipLimiter hands out one token-bucket limiter per key and evicts idle
// entries so the map stays bounded.
type ipLimiter struct {
	mu        sync.Mutex
	perMinute int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perMinute int) *ipLimiter {
	return &ipLimiter{
		perMinute: perMinute,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

func (l *ipLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > 3*time.Minute {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

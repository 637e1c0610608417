package controlplane

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle caller keeps its limiter.
const visitorTTL = 3 * time.Minute

// callerLimiter keeps one token bucket per caller.
type callerLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rps       rate.Limit
	burst     int
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(rps float64, burst int) *callerLimiter {
	return &callerLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// allow reports whether key may make a request now. Idle entries are pruned
// on access.
func (l *callerLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// callerKey identifies the caller for rate limiting: the user header when
// present, otherwise the remote IP.
func callerKey(r *http.Request) string {
	if id := r.Header.Get(UserHeader); id != "" {
		return "user:" + id
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}

// limit wraps next with the per-caller limiter. A nil limiter lets
// everything through.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(callerKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, Response{
				Success: false,
				Message: "rate limit exceeded",
				Now:     s.nowString(),
			})
			return
		}
		next(w, r)
	}
}

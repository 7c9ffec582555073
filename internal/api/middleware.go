package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/trustledger/internal/crypto"
	"github.com/org/trustledger/internal/ledger"
	"github.com/org/trustledger/pkg/models"
)

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := crypto.NewEntryID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generating request id")
			return
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

// authMiddleware validates the Authorization bearer token against the
// statically configured API tokens and attaches the actor to context.
// Token comparison is constant-time.
func authMiddleware(tokens []APIToken) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			presented := strings.TrimPrefix(header, "Bearer ")
			if presented == "" || presented == header {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			for i := range tokens {
				if crypto.ConstantTimeEqual(tokens[i].Token, presented) {
					a := &actor{Role: tokens[i].Role, UserID: tokens[i].UserID}
					next.ServeHTTP(w, r.WithContext(withActor(r.Context(), a)))
					return
				}
			}
			writeError(w, http.StatusForbidden, "invalid token")
		})
	}
}

// auditMiddleware records every authenticated mutating request to the
// chain. The ledger's own record endpoint is excluded: its entry is the
// request.
func (s *Server) auditMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rr, r)

			if r.Method == http.MethodGet || r.URL.Path == "/v1/ledger/entries" {
				return
			}
			a := actorFromCtx(r.Context())
			userID := ""
			if a != nil {
				userID = a.UserID
			}
			_, err := s.chain.Record(r.Context(), "api.request", models.LevelInfo,
				r.Method+" "+r.URL.Path,
				ledger.RecordOptions{
					UserID:        userID,
					CorrelationID: requestIDFromCtx(r.Context()),
					Metadata: map[string]any{
						"method": r.Method,
						"path":   r.URL.Path,
						"status": rr.statusCode,
					},
				})
			if err != nil {
				log.Error().Err(err).Str("path", r.URL.Path).Msg("recording api audit entry")
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// rateLimiter is a simple per-IP token bucket rate limiter.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int // requests per second
	burst   int
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

func newRateLimiter(rps, burst int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rps,
		burst:   burst,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastCheck: time.Now()}
		rl.buckets[ip] = b
	}
	now := time.Now()
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += elapsed * float64(rl.rate)
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastCheck = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip) {
			log.Warn().Str("ip", ip).Msg("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

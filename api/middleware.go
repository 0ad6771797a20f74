/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/tomoncle/hotellisting/auth"
	"github.com/tomoncle/hotellisting/metrics"
	"github.com/tomoncle/hotellisting/utils"
	"golang.org/x/time/rate"
)

func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return http.TimeoutHandler(next, d, "timeout") }
}

// ---- status-recording ResponseWriter ----

type srw struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *srw) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *srw) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *srw) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if route := rctx.RoutePattern(); route != "" {
			return route
		}
	}
	return r.URL.Path
}

// ---- Metrics middleware ----

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &srw{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTP(routePattern(r), r.Method, sw.Status(), time.Since(start))
	})
}

// ---- Request logging middleware ----

func RequestLogger(l *utils.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &srw{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			entry := l.WithFields(logrus.Fields{
				"route":      routePattern(r),
				"method":     r.Method,
				"status":     sw.Status(),
				"duration":   time.Since(start).String(),
				"remote":     remoteIP(r),
				"request_id": chimw.GetReqID(r.Context()),
			})
			if sw.Status() >= http.StatusInternalServerError {
				entry.Warn("http_request")
				return
			}
			entry.Info("http_request")
		})
	}
}

// remoteIP returns the client address. RealIP has already rewritten
// RemoteAddr from X-Forwarded-For or X-Real-IP when present.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// ---- Authentication ----

// RequireAuth rejects requests without a valid bearer token with 401 and
// stores the claim set in the request context.
func RequireAuth(a *auth.Authority) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer`)
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "a bearer token is required")
				return
			}
			cs, err := a.Validate(r.Context(), token)
			if err != nil {
				var rejected *auth.RejectedError
				if errors.As(err, &rejected) {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
					writeProblem(w, http.StatusUnauthorized, "Unauthorized", "token "+strings.ReplaceAll(rejected.Reason.String(), "_", " "))
					return
				}
				logger.WithError(err).WithField("request_id", chimw.GetReqID(r.Context())).Error("Token validation failed")
				writeProblem(w, http.StatusInternalServerError, "Internal Server Error", msgInternal)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), cs)))
		})
	}
}

// RequireRole rejects authenticated requests whose claim set lacks role with
// 403. It must run after RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cs, ok := auth.ClaimsFrom(r.Context())
			if !ok {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "a bearer token is required")
				return
			}
			if !cs.HasRole(role) {
				writeProblem(w, http.StatusForbidden, "Forbidden", "role "+role+" is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ---- Login rate limiting ----

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client address.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	lastGC   time.Time
}

func NewIPRateLimiter(perMinute, burst int) *IPRateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		lastGC:   time.Now(),
	}
}

func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.lastGC) > limiterIdleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(remoteIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "too many login attempts, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

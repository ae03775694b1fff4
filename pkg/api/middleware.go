package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sentinel-custody/core/pkg/authz"
	"github.com/sentinel-custody/core/pkg/identity"
)

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFrom returns the authenticated principal stored on the request
// context, if any.
func PrincipalFrom(ctx context.Context) (authz.Principal, bool) {
	p, ok := ctx.Value(principalKey).(authz.Principal)
	return p, ok
}

// RequestID assigns every request an id, echoing the caller's X-Request-ID
// when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// Authenticate resolves the caller to a directory principal. Two schemes are
// accepted: a bearer token minted by the identity provider, or the plain
// X-User-Id header for local deployments. Unknown users get 401.
func Authenticate(provider *identity.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				principal authz.Principal
				err       error
			)
			switch {
			case strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "):
				token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				principal, err = provider.ResolveToken(token)
			case r.Header.Get("X-User-Id") != "":
				principal, err = provider.Resolve(r.Header.Get("X-User-Id"))
			default:
				WriteErrorR(w, r, http.StatusUnauthorized, "Unauthorized", "X-User-Id header or bearer token required")
				return
			}
			if err != nil {
				WriteErrorR(w, r, http.StatusUnauthorized, "Unauthorized", "unknown or invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// actorLimiter hands out one token bucket per actor id.
type actorLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      int
}

func newActorLimiter(rpm int) *actorLimiter {
	return &actorLimiter{limiters: make(map[string]*rate.Limiter), rpm: rpm}
}

func (a *actorLimiter) allow(actorID string) bool {
	a.mu.Lock()
	lim, ok := a.limiters[actorID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(a.rpm)/60.0), a.rpm)
		a.limiters[actorID] = lim
	}
	a.mu.Unlock()
	return lim.Allow()
}

// RateLimit enforces per-actor request limits. The actor is the
// authenticated principal when present, the remote address otherwise. On
// limit exceeded it returns 429 with a Retry-After header. rpm<1 disables
// limiting.
func RateLimit(rpm int) func(http.Handler) http.Handler {
	limiter := newActorLimiter(rpm)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rpm < 1 {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if p, ok := PrincipalFrom(r.Context()); ok {
				actorID = p.OrgID + "/" + p.UserID
			}

			if !limiter.allow(actorID) {
				retryAfter := 60 / rpm
				if retryAfter < 1 {
					retryAfter = 1
				}
				WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

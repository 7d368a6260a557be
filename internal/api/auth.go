package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/booking"
)

const actorKey contextKey = "actor"

// Claims carries the caller identity. Subject is the user or provider id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for actor. Used by the simulator and tests; tokens in
// production come from the identity service sharing JWT_SECRET.
func (a *Authenticator) Issue(actor booking.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) parse(tokenString string) (booking.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return booking.Actor{}, fmt.Errorf("invalid or expired token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return booking.Actor{}, errors.New("invalid token claims")
	}
	kind, ok := booking.ParseActorKind(claims.Role)
	if !ok {
		return booking.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return booking.Actor{}, fmt.Errorf("subject must be a UUID: %w", err)
	}
	return booking.Actor{Kind: kind, ID: id}, nil
}

// Middleware resolves an optional Bearer token into an Actor. Requests
// without a token continue anonymously; a malformed or invalid token is 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header format")
			return
		}

		actor, err := a.parse(strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ActorFrom(ctx context.Context) (booking.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(booking.Actor)
	return actor, ok
}

// RequireActor rejects anonymous requests. With kinds set, only those actor
// kinds pass; anyone else gets 403.
func RequireActor(kinds ...booking.ActorKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if len(kinds) > 0 {
				allowed := false
				for _, k := range kinds {
					if actor.Kind == k {
						allowed = true
						break
					}
				}
				if !allowed {
					writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireProvider admits only provider identities. Anything else is treated as
// not logged in as a provider and gets 401.
func RequireProvider(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok || actor.Kind != booking.ActorProvider {
			writeError(w, http.StatusUnauthorized, "unauthorized", "provider authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

/*
auth.go - Bearer token authentication

PURPOSE:
  Resolves the Caller (id + role) from an HS256 JWT and stores it in the
  request context. Authorization (which role may do what) stays in the
  ledger package; this layer only establishes identity.

TOKEN:
  Authorization: Bearer <jwt>
  claims: sub  = caller id (technician id for technicians)
          role = Admin | Owner | Technician
          exp  = optional expiry

  Missing, malformed, expired or wrongly-signed tokens get 401.
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/wallet-engine/ledger"
)

type callerKey struct{}

// Claims is the JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for id/role. A zero ttl means no expiry.
func IssueToken(secret []byte, id string, role ledger.Role, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates a token and returns its caller.
func ParseToken(secret []byte, token string) (ledger.Caller, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ledger.Caller{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return ledger.Caller{}, errors.New("invalid token")
	}
	return ledger.Caller{ID: claims.Subject, Role: ledger.Role(claims.Role)}, nil
}

// Authenticate rejects requests without a valid bearer token.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeMessage(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			caller, err := ParseToken(secret, token)
			if err != nil {
				writeMessage(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			ctx := context.WithValue(r.Context(), callerKey{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFrom returns the authenticated caller, or the zero Caller (no role)
// when the request did not pass through Authenticate.
func CallerFrom(ctx context.Context) ledger.Caller {
	c, _ := ctx.Value(callerKey{}).(ledger.Caller)
	return c
}

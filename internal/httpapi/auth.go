package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the authorized persona carried in a bearer token's role claim,
// simplified from the teacher's auth.Role enum down to the three personas
// Sardis's endpoints actually gate on.
type Role string

const (
	RoleAgent    Role = "agent"
	RoleOperator Role = "operator"
	RoleAuditor  Role = "auditor"
)

type contextKey string

const contextKeyClaims contextKey = "sardis_claims"

// Claims is the identity extracted from a validated bearer token.
type Claims struct {
	Subject string
	OrgID   string
	Role    Role
}

// FromContext retrieves the authenticated Claims, set by Authenticator.
func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(contextKeyClaims).(Claims)
	return c, ok
}

// Authenticator validates HS256 bearer tokens, grounded on the teacher's
// auth.Middleware JWT verification but stripped of the WebAuthn and
// RSA/secret-provider machinery Sardis's single-issuer deployment does
// not need.
type Authenticator struct {
	signingKey []byte
	issuer     string
}

// NewAuthenticator constructs an Authenticator for the given HMAC signing
// key and expected issuer.
func NewAuthenticator(signingKey, issuer string) *Authenticator {
	return &Authenticator{signingKey: []byte(signingKey), issuer: issuer}
}

type sardisClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
}

// Authenticate is chi middleware enforcing a valid bearer token on every
// request it wraps.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "AUTH.MISSING_TOKEN", "missing bearer token")
			return
		}

		claims := &sardisClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return a.signingKey, nil
		}, jwt.WithIssuer(a.issuer))
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "AUTH.INVALID_TOKEN", "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyClaims, Claims{
			Subject: claims.Subject, OrgID: claims.OrgID, Role: Role(claims.Role),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole is chi middleware rejecting requests whose authenticated
// role is not one of allowed, mirroring the teacher's
// auth.RequireRole(roles...) route-level gate.
func (s *Server) requireRole(allowed ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "AUTH.MISSING_IDENTITY", "missing identity")
				return
			}
			for _, role := range allowed {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "AUTH.ROLE_FORBIDDEN", "role not permitted for this operation")
		})
	}
}

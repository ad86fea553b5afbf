package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// serviceClaims is the minimal claim set a worker process presents to
// call the broadcast-progress endpoint: a service token is issued out
// of band (not by this API) and only needs to prove it was signed with
// the shared secret.
type serviceClaims struct {
	jwt.RegisteredClaims
	Service string `json:"service"`
}

// serviceAuth wraps a handler with bearer-token verification for the
// worker-facing broadcast endpoint. A signed JWT is used instead of an
// opaque session-lookup token since no out-of-process worker shares a
// session store with this API.
func (s *Server) serviceAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenStr == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := &serviceClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return []byte(s.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			s.respondError(w, http.StatusUnauthorized, "invalid service token")
			return
		}

		next(w, r)
	}
}

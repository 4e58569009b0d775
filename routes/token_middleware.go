package routes

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"

	"github.com/campushub/notify/models"
)

// Claims carried by the bearer tokens the session issuer hands out. The
// subject is the account ID.
type Claims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

type TokenHandler struct {
	config *models.Config
}

func NewTokenHandler(config *models.Config) *TokenHandler {
	return &TokenHandler{config: config}
}

// TokenMiddleware authenticates the request with a bearer token, either from
// the Authorization header or, for the event stream handshake where the
// browser EventSource API cannot set headers, from the `token` query
// parameter. A stale or invalid token is rejected at the handshake.
func (s *TokenHandler) TokenMiddleware(jwtKey []byte, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			tokenString = strings.TrimPrefix(auth, "Bearer ")
		} else if queryToken := r.URL.Query().Get("token"); queryToken != "" {
			tokenString = queryToken
		}
		if tokenString == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return jwtKey, nil
		})
		if err != nil {
			if err == jwt.ErrSignatureInvalid {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			log.Printf("TokenHandler: cannot parse token: %s", err.Error())
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !token.Valid || !models.ValidRole(claims.Role) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "identity", claims.Subject)
		ctx = context.WithValue(ctx, "role", claims.Role)
		h(w, r.WithContext(ctx))
	}
}

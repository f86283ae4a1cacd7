package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("token is required")
	ErrInvalidToken = errors.New("invalid token")
)

// TokenVerifier resolves the logical user id carried by a handshake token.
type TokenVerifier struct {
	secret []byte
	// cookies controls whether the token cookie is read.
	cookies bool
}

func NewTokenVerifier(secret string, allowCredentials bool) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), cookies: allowCredentials}
}

// tokenFromRequest looks in the token cookie, the Authorization header and
// the token query parameter, in that order.
func (v *TokenVerifier) tokenFromRequest(r *http.Request) string {
	if v.cookies {
		if cookie, err := r.Cookie("token"); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return strings.TrimPrefix(r.URL.Query().Get("token"), "Bearer ")
}

// Subject verifies the request's token and returns its user id: the id
// claim, or sub when id is absent.
func (v *TokenVerifier) Subject(r *http.Request) (string, error) {
	tokenString := v.tokenFromRequest(r)
	if tokenString == "" {
		return "", ErrMissingToken
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch id := claims["id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", id), nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	return sub, nil
}

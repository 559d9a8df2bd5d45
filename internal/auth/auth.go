// Package auth attaches an authenticated principal to each connection.
// When no secret is configured every connection gets an anonymous
// principal; the fabric itself is principal-agnostic.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal identifies the authenticated party on a connection. Opaque
// to routes and engines.
type Principal struct {
	Subject   string
	Anonymous bool
}

// Verifier resolves the principal for an incoming upgrade request.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a verifier. An empty secret means authentication
// is disabled and all connections are anonymous.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return &Verifier{}
	}
	return &Verifier{secret: []byte(secret)}
}

// Principal extracts and verifies the bearer token from the request.
// Tokens may arrive in the Authorization header or, for browser
// WebSocket clients that cannot set headers, the "token" query param.
func (v *Verifier) Principal(r *http.Request) (Principal, error) {
	if len(v.secret) == 0 {
		return Principal{Subject: "anonymous", Anonymous: true}, nil
	}

	tokenString, err := extractToken(r)
	if err != nil {
		return Principal{}, err
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{Subject: subject}, nil
}

func extractToken(r *http.Request) (string, error) {
	const bearerPrefix = "Bearer "
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, bearerPrefix) {
			return "", errors.New("invalid authorization header format")
		}
		return strings.TrimPrefix(h, bearerPrefix), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", errors.New("no credentials presented")
}

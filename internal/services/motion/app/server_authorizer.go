package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type wsAuthorizer interface {
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// tokenAuthorizer verifies HS256 access tokens and resolves the subject
// as the user id.
type tokenAuthorizer struct {
	secret []byte
}

func newTokenAuthorizer(secret string) wsAuthorizer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &tokenAuthorizer{secret: []byte(secret)}
}

func (a *tokenAuthorizer) Authenticate(ctx context.Context, accessToken string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", errors.New("access token is required")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("verify access token: %w", err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("access token has no subject")
	}
	return subject, nil
}

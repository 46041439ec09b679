// Package admin exposes the direct administrative path for GDPR operations:
// restore, investigation holds, deletion, the anonymization sweep, and
// dead-letter inspection.
package admin

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"sante/internal/platform/middleware"
	"sante/internal/platform/secrets"
	dErrors "sante/pkg/domain-errors"
)

// TokenValidator accepts HS256 JWTs signed with the service key, falling back
// to a bcrypt-verified static token for deployments without a token issuer.
type TokenValidator struct {
	signingKey      []byte
	staticTokenHash string
}

func NewTokenValidator(signingKey, staticTokenHash string) *TokenValidator {
	return &TokenValidator{signingKey: []byte(signingKey), staticTokenHash: staticTokenHash}
}

func (v *TokenValidator) ValidateToken(tokenString string) (*middleware.Claims, error) {
	if len(v.signingKey) > 0 {
		claims, err := v.validateJWT(tokenString)
		if err == nil {
			return claims, nil
		}
		if v.staticTokenHash == "" {
			return nil, err
		}
	}
	if v.staticTokenHash != "" {
		if err := secrets.Verify(tokenString, v.staticTokenHash); err == nil {
			return &middleware.Claims{ActorID: "static-admin"}, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid admin token")
}

func (v *TokenValidator) validateJWT(tokenString string) (*middleware.Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid admin token")
	}
	if !token.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid admin token")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return &middleware.Claims{ActorID: subject}, nil
}

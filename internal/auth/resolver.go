package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/internal/repository"
)

var (
	ErrMissingToken = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrUnknownUser  = errors.New("token user no longer exists")
)

// Claims is the access-token claim set.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Resolver maps a bearer credential to a verified identity: it validates
// the HMAC-signed access token, then confirms the user still exists. Token
// issuance lives elsewhere; this side only verifies.
type Resolver struct {
	secret []byte
	users  repository.UserRepository
}

// NewResolver creates an identity resolver.
func NewResolver(secret string, users repository.UserRepository) *Resolver {
	return &Resolver{secret: []byte(secret), users: users}
}

// Resolve verifies the token and returns the identity it names. Callers
// bound the lookup with the context deadline.
func (r *Resolver) Resolve(ctx context.Context, tokenString string) (*domain.Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return r.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	user, err := r.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}

	identity := user.SenderSummary()
	return &identity, nil
}

// IsAuthError reports whether err is a credential problem, as opposed to an
// infrastructure failure during resolution.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrUnknownUser)
}

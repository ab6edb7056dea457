package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/z-tavern/client/internal/storage"
)

var (
	ErrNoToken     = errors.New("no token persisted")
	ErrOpaqueToken = errors.New("token is not a JWT")
)

// TokenInfo holds claims read from the persisted token. The signature is not
// verified: the values are for display only and never gate access.
type TokenInfo struct {
	Subject   string
	Username  string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// TokenInfo decodes the persisted token's claims.
func (c *Client) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	token, ok, err := c.kv.Get(ctx, storage.KeyToken)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if !ok || token == "" {
		return nil, ErrNoToken
	}
	return ParseTokenInfo(token)
}

// ParseTokenInfo decodes claims from a raw token without verifying it.
func ParseTokenInfo(raw string) (*TokenInfo, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpaqueToken, err)
	}

	info := &TokenInfo{
		Subject:  claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// ABOUTME: Session token signing and verification for human web sessions
// ABOUTME: Uses HS256 signing with an injected secret, never honoring the token's alg header

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gitplan/gitplan/internal/directory"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims are the identity fields carried by a session token.
type Claims struct {
	Email string
	Name  string
	Role  directory.Role
}

// Codec signs and verifies session tokens with a symmetric secret.
type Codec struct {
	secret []byte
}

// NewCodec creates a codec with the given signing secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	return &Codec{secret: secret}, nil
}

// Sign issues a token for the identity with the given lifetime.
func (c *Codec) Sign(id *directory.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  id.Email,
		"name": id.Name,
		"role": string(id.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify validates the token signature and expiry and extracts the claims.
// The signing method is pinned to HS256; an attacker-supplied alg header is
// never honored.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := mapClaims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	name, _ := mapClaims["name"].(string)
	role, _ := mapClaims["role"].(string)

	return &Claims{
		Email: sub,
		Name:  name,
		Role:  directory.ParseRole(role),
	}, nil
}

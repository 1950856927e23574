package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleClient is the only role issued to relay clients
const RoleClient = "client"

// DefaultTokenTTL is the lifetime of tokens minted by the token command
const DefaultTokenTTL = 30 * 24 * time.Hour

// ErrMissingClientID is returned for a token without a client id claim
var ErrMissingClientID = errors.New("token has no client id")

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	ClientID string `json:"client_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateClientToken generates a JWT token for a relay client. The client id
// doubles as the default conversation id of its requests.
func GenerateClientToken(secret []byte, clientID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is required")
	}
	if clientID == "" {
		return "", ErrMissingClientID
	}

	now := time.Now()
	claims := &JWTClaims{
		ClientID: clientID,
		Role:     RoleClient,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken validates a JWT token and returns the claims
func ValidateToken(secret []byte, tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.ClientID == "" {
		return nil, ErrMissingClientID
	}
	return claims, nil
}

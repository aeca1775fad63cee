package engineclient

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/golang-jwt/jwt/v5"
)

const jwtSecretLength = 32

var ErrInvalidJWTSecret = errors.New("jwt secret must be 32 hex encoded bytes")

// ParseJWTSecret decodes a hex encoded 32 byte secret, with or without 0x prefix
func ParseJWTSecret(s string) ([]byte, error) {
	secret, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJWTSecret, err)
	}
	if len(secret) != jwtSecretLength {
		return nil, ErrInvalidJWTSecret
	}
	return secret, nil
}

// LoadJWTSecret reads a secret file as written by execution clients
func LoadJWTSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseJWTSecret(string(data))
}

// NewJWTToken returns an HS256 token carrying the issued-at claim required by the engine API
func NewJWTToken(secret []byte, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		IssuedAt: jwt.NewNumericDate(now),
	})
	return token.SignedString(secret)
}

// NewJWTAuth returns an rpc.HTTPAuth that signs a fresh token for every request
func NewJWTAuth(secret []byte) rpc.HTTPAuth {
	return func(h http.Header) error {
		token, err := NewJWTToken(secret, time.Now())
		if err != nil {
			return fmt.Errorf("failed to sign jwt token: %w", err)
		}
		h.Set("Authorization", "Bearer "+token)
		return nil
	}
}

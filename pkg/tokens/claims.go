// Package tokens holds the claim layout of autho-issued tokens and the
// verification routine resource servers use with only the public key.
package tokens

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

var (
	ErrWrongType        = errors.New("unexpected token type")
	ErrIncompleteClaims = errors.New("token is missing sub or jti")
	ErrNoKey            = errors.New("no verification key")
)

type Claims struct {
	Type  Type   `json:"type"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Parse verifies an RS256 token against key and checks that it is of the
// wanted type. Extra parser options (issuer, clock) are appended.
func Parse(tokenStr string, key *rsa.PublicKey, want Type, opts ...jwt.ParserOption) (*Claims, error) {
	if key == nil {
		return nil, ErrNoKey
	}
	return ParseWithKeyfunc(tokenStr, func(*jwt.Token) (any, error) { return key, nil }, want, opts...)
}

// ParseWithKeyfunc is Parse with the key chosen per token, typically from a
// key set by kid.
func ParseWithKeyfunc(tokenStr string, kf jwt.Keyfunc, want Type, opts ...jwt.ParserOption) (*Claims, error) {
	base := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	var claims Claims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, kf, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongType, claims.Type, want)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrIncompleteClaims
	}
	return &claims, nil
}

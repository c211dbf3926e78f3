package keys

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// JWKS is the document served at /.well-known/jwks.json.
func (m *Manager) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       m.public,
		KeyID:     m.kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
}

// thumbprint is the RFC 7638 key id.
func thumbprint(pub *rsa.PublicKey) (string, error) {
	sum, err := (&jose.JSONWebKey{Key: pub}).Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%w: thumbprint: %v", ErrKeyUnavailable, err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

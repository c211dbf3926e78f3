// Package keys owns the RS256 keypair that signs autho tokens.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

const minKeyBits = 2048

var ErrKeyUnavailable = errors.New("signing key unavailable")

// Manager is immutable after construction and safe for concurrent use.
type Manager struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	kid     string
}

// Load reads the private key and, when publicPath is set, checks that the
// public key on disk belongs to it.
func Load(privatePath, publicPath string) (*Manager, error) {
	if privatePath == "" {
		return nil, fmt.Errorf("%w: private key path is empty", ErrKeyUnavailable)
	}
	raw, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %v", ErrKeyUnavailable, err)
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrKeyUnavailable, err)
	}
	if publicPath != "" {
		pub, err := readPublic(publicPath)
		if err != nil {
			return nil, err
		}
		if !pub.Equal(&priv.PublicKey) {
			return nil, fmt.Errorf("%w: public key does not match private key", ErrKeyUnavailable)
		}
	}
	return New(priv)
}

// LoadPublic builds a verification-only manager.
func LoadPublic(path string) (*Manager, error) {
	pub, err := readPublic(path)
	if err != nil {
		return nil, err
	}
	return NewPublic(pub)
}

func New(priv *rsa.PrivateKey) (*Manager, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrKeyUnavailable)
	}
	m, err := NewPublic(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	m.private = priv
	return m, nil
}

func NewPublic(pub *rsa.PublicKey) (*Manager, error) {
	if pub == nil || pub.N == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrKeyUnavailable)
	}
	if pub.N.BitLen() < minKeyBits {
		return nil, fmt.Errorf("%w: key is %d bits, need at least %d", ErrKeyUnavailable, pub.N.BitLen(), minKeyBits)
	}
	kid, err := thumbprint(pub)
	if err != nil {
		return nil, err
	}
	return &Manager{public: pub, kid: kid}, nil
}

// Sign produces an RS256 token with the key id in its header.
func (m *Manager) Sign(claims jwt.Claims) (string, error) {
	if m == nil || m.private == nil {
		return "", ErrKeyUnavailable
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = m.kid
	s, err := t.SignedString(m.private)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	return s, nil
}

func (m *Manager) PublicKey() *rsa.PublicKey { return m.public }

func (m *Manager) KeyID() string { return m.kid }

func readPublic(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read public key: %v", ErrKeyUnavailable, err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrKeyUnavailable, err)
	}
	return pub, nil
}

// Generate creates a fresh keypair of the given size.
func Generate(bits int) (*rsa.PrivateKey, error) {
	if bits < minKeyBits {
		return nil, fmt.Errorf("key size %d is below %d bits", bits, minKeyBits)
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// WritePEM stores the private key as PKCS#8 (0600) and the public key as
// PKIX (0644).
func WritePEM(privatePath, publicPath string, priv *rsa.PrivateKey) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	if err := writeFile(privatePath, &pem.Block{Type: "PRIVATE KEY", Bytes: privDER}, 0o600); err != nil {
		return err
	}
	return writeFile(publicPath, &pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}, 0o644)
}

func writeFile(path string, block *pem.Block, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Package keys owns the long-lived RSA keypair of a signing service.
// Keys are generated once, persisted to disk, and reloaded on restart so
// previously issued tokens and cache entries stay verifiable.
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
)

const (
	// MinKeyBits is the smallest keypair size the provider will generate.
	MinKeyBits = 2048

	// Algorithm names the signature scheme used across all services.
	Algorithm = "SHA256withRSA"

	privateBlockType = "RSA PRIVATE KEY"
	publicBlockType  = "PUBLIC KEY"
)

// Provider holds a service's RSA keypair.
type Provider struct {
	name string
	key  *rsa.PrivateKey
}

// Load reads the private key PEM for name from dir, generating and
// persisting a fresh keypair when none exists yet.
func Load(dir, name string, bits int) (*Provider, error) {
	if bits < MinKeyBits {
		bits = MinKeyBits
	}
	path := filepath.Join(dir, name+".pem")

	data, err := os.ReadFile(path)
	if err == nil {
		key, err := parsePrivatePEM(data)
		if err != nil {
			return nil, fmt.Errorf("keys: parse %s: %w", path, err)
		}
		return &Provider{name: name, key: key}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("keys: read %s: %w", path, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keys: mkdir %s: %w", dir, err)
	}
	block := &pem.Block{Type: privateBlockType, Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("keys: write %s: %w", path, err)
	}
	return &Provider{name: name, key: key}, nil
}

// Name returns the signing identity this keypair belongs to.
func (p *Provider) Name() string {
	return p.name
}

// Signer returns the private key for signing.
func (p *Provider) Signer() *rsa.PrivateKey {
	return p.key
}

// Public returns the verification key.
func (p *Provider) Public() *rsa.PublicKey {
	return &p.key.PublicKey
}

// PublicKeyPEM returns the PKIX-encoded public key for distribution.
func (p *Provider) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&p.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: publicBlockType, Bytes: der}), nil
}

// ParsePublicPEM decodes a PKIX PEM public key as distributed by PublicKeyPEM.
func ParsePublicPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("keys: no PEM block in public key data")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: unexpected public key type %T", pub)
	}
	return rsaPub, nil
}

func parsePrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", parsed)
	}
	return key, nil
}

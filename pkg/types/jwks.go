package types

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// JSONWebKey is a JSON web key as specified by RFC 7517.
type JSONWebKey struct {
	Algorithm string   `json:"alg,omitempty"`
	KeyID     string   `json:"kid,omitempty"`
	KeyType   string   `json:"kty,omitempty"`
	Use       string   `json:"use,omitempty"`
	N         string   `json:"n,omitempty"`   // RSA modulus
	E         string   `json:"e,omitempty"`   // RSA public exponent
	X         string   `json:"x,omitempty"`   // EC x coordinate
	Y         string   `json:"y,omitempty"`   // EC y coordinate
	Crv       string   `json:"crv,omitempty"` // EC curve
	X5c       []string `json:"x5c,omitempty"` // X.509 certificate chain
	X5u       string   `json:"x5u,omitempty"` // X.509 URL
}

// JWKS represents a set of JSON Web Keys retrieved from a JWKS endpoint
type JWKS struct {
	Keys []JSONWebKey `json:"keys"`
}

// SigningKey is a single public signing key resolved from a JWKS document.
// Immutable once constructed.
type SigningKey struct {
	KeyID     string
	KeyType   string
	Algorithm string
	Public    crypto.PublicKey
}

// KeySet is the full key set of one identity pool as fetched from the
// pool's JWKS endpoint. A KeySet is never mutated after construction; on
// refresh the whole set is replaced, so concurrent readers observe either
// the old or the new set, never a mix.
type KeySet struct {
	JWKS
	Pool      string    `json:"pool"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how long ago the set was fetched.
func (ks *KeySet) Age(now time.Time) time.Duration {
	return now.Sub(ks.FetchedAt)
}

// Lookup returns the signing key tagged with the given kid.
func (ks *KeySet) Lookup(kid string) (*SigningKey, bool) {
	for i := range ks.Keys {
		if ks.Keys[i].KeyID != kid {
			continue
		}
		pub, err := ks.Keys[i].PublicKey()
		if err != nil {
			return nil, false
		}
		return &SigningKey{
			KeyID:     ks.Keys[i].KeyID,
			KeyType:   ks.Keys[i].KeyType,
			Algorithm: ks.Keys[i].Algorithm,
			Public:    pub,
		}, true
	}
	return nil, false
}

// PublicKey constructs the crypto public key from the JWK parameters.
// RSA and EC key types are supported; anything else is rejected.
func (k *JSONWebKey) PublicKey() (crypto.PublicKey, error) {
	switch k.KeyType {
	case "RSA":
		return k.rsaPublicKey()
	case "EC":
		return k.ecPublicKey()
	default:
		return nil, fmt.Errorf("unsupported key type %q for kid %q", k.KeyType, k.KeyID)
	}
}

func (k *JSONWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	if k.N == "" || k.E == "" {
		return nil, errors.New("RSA key is missing modulus or exponent")
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func (k *JSONWebKey) ecPublicKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported EC curve %q", k.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}

	yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

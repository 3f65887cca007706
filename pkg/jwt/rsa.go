// Package jwt provides RS256 JWT signing for GitHub App authentication
package jwt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/OpsMx/ghapp-token/pkg/types"
)

const (
	// IssuedAtSkew is subtracted from the reference time to tolerate clock drift with GitHub
	IssuedAtSkew = 10 * time.Second

	// Validity is the fixed lifetime of an App JWT (GitHub rejects anything above 10 minutes)
	Validity = 600 * time.Second
)

var (
	// ErrKeyFormat is returned when key material is not a PEM-encoded RSA private key
	ErrKeyFormat = errors.New("invalid RSA private key")

	// ErrSigning is returned for any other failure while producing a token
	ErrSigning = errors.New("failed to sign JWT")
)

// PrivateKey encapsulates an RSA private key
// This prevents direct access to the raw private key material
type PrivateKey struct {
	key *rsa.PrivateKey
}

// ParsePrivateKey parses PKCS#1 or PKCS#8 PEM key material
func ParsePrivateKey(pemData []byte) (*PrivateKey, error) {
	rawKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return NewPrivateKey(rawKey), nil
}

// NewPrivateKey creates a PrivateKey struct from an existing raw RSA private key
func NewPrivateKey(rawKey *rsa.PrivateKey) *PrivateKey {
	if rawKey == nil {
		return nil
	}

	privateKey := &PrivateKey{key: rawKey}

	// Set up finalizer to zero out key material on GC
	runtime.SetFinalizer(privateKey, (*PrivateKey).Zero)

	return privateKey
}

// NewClaims builds the claim set for appID at referenceTime (epoch seconds)
func NewClaims(appID string, referenceTime int64) *types.GitHubJWTPayload {
	issuedAt := referenceTime - int64(IssuedAtSkew/time.Second)
	return &types.GitHubJWTPayload{
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt + int64(Validity/time.Second),
		Issuer:    appID,
	}
}

// Sign produces a compact RS256 JWT for appID from PEM key material.
// The parsed key is zeroed before returning.
func Sign(appID string, privateKeyPEM []byte, referenceTime int64) (string, error) {
	privateKey, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}
	defer privateKey.Zero()

	return privateKey.SignJWT(NewClaims(appID, referenceTime))
}

// SignJWT signs a JWT using this private key
func (pk *PrivateKey) SignJWT(payload *types.GitHubJWTPayload) (string, error) {
	if pk.key == nil {
		return "", fmt.Errorf("%w: private key is nil", ErrSigning)
	}
	if payload.Issuer == "" {
		return "", fmt.Errorf("%w: issuer (app id) is empty", ErrSigning)
	}
	if payload.IssuedAt >= payload.ExpiresAt {
		return "", fmt.Errorf("%w: iat (%d) must precede exp (%d)", ErrSigning, payload.IssuedAt, payload.ExpiresAt)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, payload)

	tokenString, err := token.SignedString(pk.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return tokenString, nil
}

// PublicKey returns the public half of the key
func (pk *PrivateKey) PublicKey() *rsa.PublicKey {
	if pk.key == nil {
		return nil
	}
	return &pk.key.PublicKey
}

// PublicKeyPEM returns the public key in PEM format
func (pk *PrivateKey) PublicKeyPEM() (string, error) {
	if pk.key == nil {
		return "", fmt.Errorf("private key is nil")
	}

	// Marshal public key to PKIX format
	pubKeyBytes, err := x509.MarshalPKIXPublicKey(&pk.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubKeyBytes,
	}
	return string(pem.EncodeToMemory(pemBlock)), nil
}

// Zero securely zeros the private key material (called by finalizer)
func (pk *PrivateKey) Zero() {
	if pk.key == nil {
		return
	}
	if pk.key.D != nil {
		pk.key.D.SetInt64(0)
	}
	for _, prime := range pk.key.Primes {
		if prime != nil {
			prime.SetInt64(0)
		}
	}
	pk.key = nil
}

// ValidateJWT verifies an RS256 App JWT against publicKey and returns its claims.
// Extra parser options (e.g. jwt.WithoutClaimsValidation for fixed test times) are passed through.
func ValidateJWT(tokenString string, publicKey *rsa.PublicKey, opts ...jwt.ParserOption) (*types.GitHubJWTPayload, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("public key is nil")
	}

	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}, opts...)
	token, err := jwt.ParseWithClaims(tokenString, &types.GitHubJWTPayload{}, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*types.GitHubJWTPayload)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	if claims.Issuer == "" {
		return nil, fmt.Errorf("missing required JWT field (iss)")
	}
	if claims.IssuedAt >= claims.ExpiresAt {
		return nil, fmt.Errorf("JWT iat (%d) is not before exp (%d)", claims.IssuedAt, claims.ExpiresAt)
	}

	return claims, nil
}

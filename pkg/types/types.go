// Package types defines the wire and result types shared by the token pipeline
package types

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GitHubJWTPayload represents the JWT payload for GitHub App authentication
type GitHubJWTPayload struct {
	IssuedAt  int64  `json:"iat"` // Issued at timestamp
	ExpiresAt int64  `json:"exp"` // Expiration timestamp
	Issuer    string `json:"iss"` // GitHub App ID
}

// GetExpirationTime implements jwt.Claims interface
func (p *GitHubJWTPayload) GetExpirationTime() (*jwt.NumericDate, error) {
	if p.ExpiresAt == 0 {
		return nil, nil
	}
	t := time.Unix(p.ExpiresAt, 0)
	return jwt.NewNumericDate(t), nil
}

// GetIssuedAt implements jwt.Claims interface
func (p *GitHubJWTPayload) GetIssuedAt() (*jwt.NumericDate, error) {
	if p.IssuedAt == 0 {
		return nil, nil
	}
	t := time.Unix(p.IssuedAt, 0)
	return jwt.NewNumericDate(t), nil
}

// GetNotBefore implements jwt.Claims interface
func (p *GitHubJWTPayload) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements jwt.Claims interface
func (p *GitHubJWTPayload) GetIssuer() (string, error) {
	return p.Issuer, nil
}

// GetSubject implements jwt.Claims interface
func (p *GitHubJWTPayload) GetSubject() (string, error) {
	return "", nil
}

// GetAudience implements jwt.Claims interface
func (p *GitHubJWTPayload) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}

// InstallationRecord is the subset of GET /orgs/{org}/installation the pipeline needs.
// Pointer fields distinguish a missing key from a zero value.
type InstallationRecord struct {
	ID              *uint64 `json:"id"`
	AccessTokensURL *string `json:"access_tokens_url"` // Used verbatim for the token exchange
}

// AccessTokenRecord is the subset of POST {access_tokens_url} the pipeline needs
type AccessTokenRecord struct {
	Token     *string `json:"token"`      // Secret, never logged
	ExpiresAt *string `json:"expires_at"` // ISO-8601, passed through untouched
}

// PipelineResult is the final artifact printed by the tool
type PipelineResult struct {
	AccessToken    string `json:"access_token"`
	Expiration     string `json:"expiration"`
	AccessTokenURL string `json:"access_token_url"`
	InstallationID uint64 `json:"installation_id"`
}

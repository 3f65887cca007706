// Package ghapptoken issues GitHub App installation access tokens.
//
// A run signs an App JWT, resolves the organization's installation and
// exchanges the JWT for an installation access token. The HTTP calls go
// through a Transport so the same pipeline runs against GitHub or a test double.
package ghapptoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/OpsMx/ghapp-token/pkg/jwt"
	"github.com/OpsMx/ghapp-token/pkg/types"
)

// TokenSigner produces the App JWT for a run
type TokenSigner interface {
	Sign(appID string, privateKeyPEM []byte, referenceTime int64) (string, error)
}

// TokenSignerFunc adapts a function to TokenSigner
type TokenSignerFunc func(appID string, privateKeyPEM []byte, referenceTime int64) (string, error)

// Sign calls f
func (f TokenSignerFunc) Sign(appID string, privateKeyPEM []byte, referenceTime int64) (string, error) {
	return f(appID, privateKeyPEM, referenceTime)
}

// Client runs the token pipeline over an injected Transport
type Client struct {
	transport Transport
	signer    TokenSigner
	logger    *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger used for stage progress. Secrets are never logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSigner replaces the RS256 signer from pkg/jwt
func WithSigner(signer TokenSigner) Option {
	return func(c *Client) {
		if signer != nil {
			c.signer = signer
		}
	}
}

// NewClient creates a new pipeline client around transport
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		signer:    TokenSignerFunc(jwt.Sign),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the pipeline with transport and default options
func Run(ctx context.Context, transport Transport, params Params) (string, error) {
	return NewClient(transport).Run(ctx, params)
}

// Run executes the pipeline and returns the serialized PipelineResult
func (c *Client) Run(ctx context.Context, params Params) (string, error) {
	result, err := c.Exchange(ctx, params)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", ErrSerialization.withStage(StageSerializingResult, err)
	}
	return string(out), nil
}

// Exchange signs a JWT, resolves the installation and fetches an access token
func (c *Client) Exchange(ctx context.Context, params Params) (*PipelineResult, error) {
	logger := c.logger.With(slog.String("app_id", params.AppID), slog.String("org", params.Org))

	logger.Debug("generating token", slog.Int64("reference_time", params.ReferenceTime))
	token, err := c.signer.Sign(params.AppID, params.PrivateKey, params.ReferenceTime)
	if err != nil {
		if errors.Is(err, jwt.ErrKeyFormat) || errors.Is(err, ErrKeyFormat) {
			return nil, ErrKeyFormat.withStage(StageGeneratingToken, err)
		}
		return nil, ErrSigning.withStage(StageGeneratingToken, err)
	}

	logger.Debug("fetching installation id", slog.String("base_url", params.BaseURL))
	body, err := c.transport.FetchInstallation(ctx, token, params.Org, params.BaseURL)
	if err != nil {
		return nil, ErrNetwork.withStage(StageFetchingInstallation, err)
	}

	installation, err := parseInstallation(body)
	if err != nil {
		return nil, parseError(StageParsingInstallation, err, body)
	}
	logger.Info("resolved installation",
		slog.Uint64("installation_id", *installation.ID),
		slog.String("access_tokens_url", *installation.AccessTokensURL),
	)

	logger.Debug("fetching access token")
	body, err = c.transport.FetchAccessToken(ctx, *installation.AccessTokensURL, token)
	if err != nil {
		return nil, ErrNetwork.withStage(StageFetchingAccessToken, err)
	}

	accessToken, err := parseAccessToken(body)
	if err != nil {
		return nil, parseError(StageParsingAccessToken, err, body)
	}
	logger.Info("issued installation access token", slog.String("expires_at", *accessToken.ExpiresAt))

	return &PipelineResult{
		AccessToken:    *accessToken.Token,
		Expiration:     *accessToken.ExpiresAt,
		AccessTokenURL: *installation.AccessTokensURL,
		InstallationID: *installation.ID,
	}, nil
}

func parseInstallation(body string) (*types.InstallationRecord, error) {
	var record types.InstallationRecord
	if err := json.Unmarshal([]byte(body), &record); err != nil {
		return nil, err
	}
	if record.ID == nil {
		return nil, missingField("id")
	}
	if record.AccessTokensURL == nil || *record.AccessTokensURL == "" {
		return nil, missingField("access_tokens_url")
	}
	return &record, nil
}

func parseAccessToken(body string) (*types.AccessTokenRecord, error) {
	var record types.AccessTokenRecord
	if err := json.Unmarshal([]byte(body), &record); err != nil {
		return nil, err
	}
	if record.Token == nil || *record.Token == "" {
		return nil, missingField("token")
	}
	if record.ExpiresAt == nil {
		return nil, missingField("expires_at")
	}
	return &record, nil
}

func missingField(name string) error {
	return fmt.Errorf("missing required field %q", name)
}

func parseError(stage string, cause error, body string) *ClientError {
	e := ErrResponseParse.withStage(stage, cause)
	e.Details = "response: " + body
	return e
}

package ghapptoken

import (
	"context"
	"sync"
)

// MockTransport returns pre-programmed bodies without network I/O.
// It records every call so tests can assert what the pipeline asked for.
type MockTransport struct {
	InstallationBody string
	InstallationErr  error
	AccessTokenBody  string
	AccessTokenErr   error

	mu                sync.Mutex
	installationCalls []InstallationCall
	accessTokenCalls  []AccessTokenCall
}

// InstallationCall captures the arguments of one FetchInstallation call
type InstallationCall struct {
	Token   string
	Org     string
	BaseURL string
}

// AccessTokenCall captures the arguments of one FetchAccessToken call
type AccessTokenCall struct {
	AccessTokensURL string
	Token           string
}

// FetchInstallation records the call and returns InstallationBody or InstallationErr
func (m *MockTransport) FetchInstallation(_ context.Context, token, org, baseURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installationCalls = append(m.installationCalls, InstallationCall{Token: token, Org: org, BaseURL: baseURL})
	if m.InstallationErr != nil {
		return "", m.InstallationErr
	}
	return m.InstallationBody, nil
}

// FetchAccessToken records the call and returns AccessTokenBody or AccessTokenErr
func (m *MockTransport) FetchAccessToken(_ context.Context, accessTokensURL, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessTokenCalls = append(m.accessTokenCalls, AccessTokenCall{AccessTokensURL: accessTokensURL, Token: token})
	if m.AccessTokenErr != nil {
		return "", m.AccessTokenErr
	}
	return m.AccessTokenBody, nil
}

// InstallationCalls returns a copy of the recorded FetchInstallation calls
func (m *MockTransport) InstallationCalls() []InstallationCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InstallationCall(nil), m.installationCalls...)
}

// AccessTokenCalls returns a copy of the recorded FetchAccessToken calls
func (m *MockTransport) AccessTokenCalls() []AccessTokenCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AccessTokenCall(nil), m.accessTokenCalls...)
}

package cli

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpsMx/ghapp-token/internal/config"
	"github.com/OpsMx/ghapp-token/pkg/jwt"
)

const testIssueTime = 1645121374

// testKeyPEM is generated once for the package; do not use outside tests.
var testKeyPEM = generateTestKey()

func generateTestKey() []byte {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("generating test RSA key: " + err.Error())
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// clearEnv blanks the configuration variables so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{config.EnvAppID, config.EnvOrg, config.EnvBaseURL, config.EnvPrivateKey, config.EnvPrivateKeyPath, config.EnvIssueTime} {
		t.Setenv(name, "")
	}
}

// githubStub mimics the two GitHub endpoints and only answers requests
// carrying the JWT expected for app 1234343 at testIssueTime.
type githubStub struct {
	server       *httptest.Server
	expectedAuth string

	mu       sync.Mutex
	requests []string
}

func newGitHubStub(t *testing.T) *githubStub {
	t.Helper()

	expectedJWT, err := jwt.Sign("1234343", testKeyPEM, testIssueTime)
	require.NoError(t, err)

	stub := &githubStub{expectedAuth: "Bearer " + expectedJWT}
	mux := http.NewServeMux()
	mux.HandleFunc("/orgs/test-inc/installation", func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		if r.Method != http.MethodGet || r.Header.Get("Authorization") != stub.expectedAuth {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"A JSON web token could not be decoded"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                23411111,
			"access_tokens_url": stub.server.URL + "/app/installations/23411111/access_tokens",
		})
	})
	mux.HandleFunc("/app/installations/23411111/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		if r.Method != http.MethodPost || r.Header.Get("Authorization") != stub.expectedAuth {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"token": "access token", "expires_at": "2022-02-16T21:34:13Z"}`)
	})
	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *githubStub) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path+" ua="+r.UserAgent())
}

func (s *githubStub) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func baseArgs(stub *githubStub) []string {
	return []string{
		"--app-id", "1234343",
		"--private-key", base64.StdEncoding.EncodeToString(testKeyPEM),
		"--org", "test-inc",
		"--base-url", stub.server.URL,
		"--issue-time", fmt.Sprint(testIssueTime),
	}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ghapp-token", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
}

func TestFlags(t *testing.T) {
	cmd := NewRootCommand()

	cases := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{"app-id", "a", ""},
		{"private-key", "p", ""},
		{"private-key-path", "", ""},
		{"org", "o", ""},
		{"base-url", "b", "https://api.github.com"},
		{"issue-time", "i", "0"},
		{"timeout", "", "30s"},
		{"config", "", ""},
		{"metrics-file", "", ""},
		{"verbose", "v", "false"},
		{"log-format", "", "text"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flag := cmd.Flags().Lookup(tc.name)
			require.NotNil(t, flag)
			assert.Equal(t, tc.shorthand, flag.Shorthand)
			assert.Equal(t, tc.defValue, flag.DefValue)
		})
	}
}

func TestExecute_EndToEnd(t *testing.T) {
	clearEnv(t)
	stub := newGitHubStub(t)

	code, stdout, stderr := execute(t, baseArgs(stub)...)
	require.Equal(t, ExitSuccess, code, stderr)

	require.Equal(t, []string{
		"GET /orgs/test-inc/installation ua=ghapp-token/dev",
		"POST /app/installations/23411111/access_tokens ua=ghapp-token/dev",
	}, stub.Requests())

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, "access token", result["access_token"])
	assert.Equal(t, "2022-02-16T21:34:13Z", result["expiration"])
	assert.Equal(t, stub.server.URL+"/app/installations/23411111/access_tokens", result["access_token_url"])
	assert.EqualValues(t, 23411111, result["installation_id"])

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "end_to_end_stdout", []byte(strings.ReplaceAll(stdout, stub.server.URL, "http://github.stub")))
}

func TestExecute_PrivateKeyPath(t *testing.T) {
	clearEnv(t)
	stub := newGitHubStub(t)
	keyPath := filepath.Join(t.TempDir(), "app.pem")
	require.NoError(t, os.WriteFile(keyPath, testKeyPEM, 0o600))

	code, stdout, stderr := execute(t,
		"--app-id", "1234343",
		"--private-key-path", keyPath,
		"--org", "test-inc",
		"--base-url", stub.server.URL,
		"--issue-time", fmt.Sprint(testIssueTime),
	)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, `"installation_id":23411111`)
}

func TestExecute_ConfigFileAndEnv(t *testing.T) {
	clearEnv(t)
	stub := newGitHubStub(t)
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "app.pem")
	require.NoError(t, os.WriteFile(keyPath, testKeyPEM, 0o600))
	cfgPath := filepath.Join(dir, "ghapp-token.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(
		"app_id: \"1234343\"\norg: wrong-org\nprivate_key_path: %s\nissue_time: %d\n", keyPath, testIssueTime)), 0o600))

	t.Setenv(config.EnvBaseURL, stub.server.URL)
	t.Setenv(config.EnvOrg, "test-inc")

	code, stdout, stderr := execute(t, "--config", cfgPath)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, `"access_token":"access token"`)
}

func TestExecute_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	stub := newGitHubStub(t)

	t.Setenv(config.EnvAppID, "999")
	t.Setenv(config.EnvOrg, "wrong-org")
	t.Setenv(config.EnvPrivateKeyPath, "/nonexistent/key.pem")
	t.Setenv(config.EnvIssueTime, "1")

	code, stdout, stderr := execute(t, baseArgs(stub)...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, `"installation_id":23411111`)

	requests := stub.Requests()
	require.NotEmpty(t, requests)
	assert.True(t, strings.HasPrefix(requests[0], "GET /orgs/test-inc/installation "), requests[0])
}

func TestExecute_Version(t *testing.T) {
	clearEnv(t)

	code, stdout, stderr := execute(t, "--version")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, "ghapp-token version dev\n", stdout)
}

func TestExecute_MetricsFile(t *testing.T) {
	clearEnv(t)
	stub := newGitHubStub(t)
	metricsPath := filepath.Join(t.TempDir(), "ghapp-token.prom")

	code, _, stderr := execute(t, append(baseArgs(stub), "--metrics-file", metricsPath)...)
	require.Equal(t, ExitSuccess, code, stderr)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ghapp_token_http_requests_total{call="installation",status="200"} 1`)
	assert.Contains(t, string(data), `ghapp_token_http_requests_total{call="access_token",status="201"} 1`)
	assert.Contains(t, string(data), `ghapp_token_exchanges_total{outcome="success"} 1`)
}

func TestExecute_MalformedKey(t *testing.T) {
	clearEnv(t)
	stub := newGitHubStub(t)

	args := baseArgs(stub)
	args[3] = base64.StdEncoding.EncodeToString([]byte("not a pem key"))

	code, stdout, stderr := execute(t, args...)
	assert.Equal(t, ExitFailure, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "generating token: KEY_FORMAT_ERROR")
	assert.Empty(t, stub.Requests())
}

func TestExecute_WrongIssueTimeIsRejected(t *testing.T) {
	clearEnv(t)
	stub := newGitHubStub(t)

	args := baseArgs(stub)
	args[len(args)-1] = "1645121375"

	code, stdout, stderr := execute(t, args...)
	assert.Equal(t, ExitFailure, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "fetching installation id: NETWORK_ERROR")
	assert.Contains(t, stderr, "HTTP 401")
	assert.Len(t, stub.Requests(), 1)
}

func TestExecute_CommandErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"missing everything", nil},
		{"missing org", []string{"--app-id", "1", "--private-key", "ZW5j"}},
		{"conflicting keys", []string{"--app-id", "1", "--org", "o", "--private-key", "ZW5j", "--private-key-path", "/k.pem"}},
		{"invalid base64", []string{"--app-id", "1", "--org", "o", "--private-key", "base64 encoded key"}},
		{"missing key file", []string{"--app-id", "1", "--org", "o", "--private-key-path", "/nonexistent/key.pem"}},
		{"relative base url", []string{"--app-id", "1", "--org", "o", "--private-key", "ZW5j", "--base-url", "api.github.com"}},
		{"unknown flag", []string{"--nope"}},
		{"bad issue time", []string{"--issue-time", "soon"}},
		{"positional args", []string{"extra"}},
		{"bad log format", []string{"--log-format", "xml"}},
		{"missing config file", []string{"--config", "/nonexistent/ghapp-token.yaml"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			code, stdout, stderr := execute(t, tc.args...)
			assert.Equal(t, ExitCommandError, code, stderr)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "Error:")
		})
	}
}

func TestExecute_VerboseJSONLogsWithoutSecrets(t *testing.T) {
	clearEnv(t)
	stub := newGitHubStub(t)

	code, _, stderr := execute(t, append(baseArgs(stub), "--verbose", "--log-format", "json")...)
	require.Equal(t, ExitSuccess, code, stderr)

	assert.Contains(t, stderr, `"run_id"`)
	assert.Contains(t, stderr, `"installation_id":23411111`)
	assert.NotContains(t, stderr, strings.TrimPrefix(stub.expectedAuth, "Bearer "))
	assert.NotContains(t, stderr, `"access token"`)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "bad"))))
}

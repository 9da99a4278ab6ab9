package token

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/skill-deployer/internal/config"
)

// freePort reserves an ephemeral port and releases it for the listener
// under test. The small race with other processes is acceptable in tests.
func freePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	return port
}

// tokenEndpoint is a fake provider token endpoint recording the exchange form.
type tokenEndpoint struct {
	server       *httptest.Server
	receivedForm url.Values
	status       int
	body         string
}

func newTokenEndpoint(t *testing.T) *tokenEndpoint {
	t.Helper()

	endpoint := &tokenEndpoint{
		status: http.StatusOK,
		body:   `{"access_token":"at-123","refresh_token":"rt-456","token_type":"bearer","expires_in":3600}`,
	}

	endpoint.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		endpoint.receivedForm = r.PostForm

		w.WriteHeader(endpoint.status)
		_, _ = w.Write([]byte(endpoint.body))
	}))

	t.Cleanup(endpoint.server.Close)

	return endpoint
}

// redirect simulates the provider sending the operator's browser back to the
// local listener. It parses the authorization URL the helper produced and
// calls the registered redirect URI with the given query values.
func redirect(t *testing.T, authURL string, override url.Values) *http.Response {
	t.Helper()

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	query := parsed.Query()
	require.Equal(t, "code", query.Get("response_type"))
	require.NotEmpty(t, query.Get("state"))

	callbackQuery := url.Values{}
	callbackQuery.Set("code", "auth-code-1")
	callbackQuery.Set("state", query.Get("state"))

	for key, values := range override {
		callbackQuery.Del(key)

		for _, value := range values {
			callbackQuery.Add(key, value)
		}
	}

	response, err := http.Get(query.Get("redirect_uri") + "?" + callbackQuery.Encode()) //nolint:noctx // Test helper.
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = response.Body.Close()
	})

	return response
}

func testConfig(t *testing.T, port int) *config.Config {
	t.Helper()

	return &config.Config{
		OAuth: config.OAuthConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectPort: port,
			EnvFile:      filepath.Join(t.TempDir(), ".env"),
		},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	port := freePort(t)
	endpoint := newTokenEndpoint(t)
	cfg := testConfig(t, port)

	err := Run(context.Background(), &Options{
		Config:   cfg,
		TokenURL: endpoint.server.URL,
		OpenBrowser: func(authURL string) error {
			go redirect(t, authURL, nil)
			return nil
		},
	})
	require.NoError(t, err)

	form := endpoint.receivedForm
	require.Equal(t, "authorization_code", form.Get("grant_type"))
	require.Equal(t, "auth-code-1", form.Get("code"))
	require.Equal(t, fmt.Sprintf("http://localhost:%d/callback", port), form.Get("redirect_uri"))
	require.Equal(t, "client-id", form.Get("client_id"))
	require.Equal(t, "client-secret", form.Get("client_secret"))

	saved, err := os.ReadFile(cfg.OAuth.EnvFile)
	require.NoError(t, err)
	require.Contains(t, string(saved), "ALEXA_REFRESH_TOKEN=rt-456\n")
}

func TestRun_AppendsToExistingEnvFile(t *testing.T) {
	port := freePort(t)
	endpoint := newTokenEndpoint(t)
	cfg := testConfig(t, port)

	require.NoError(t, os.WriteFile(cfg.OAuth.EnvFile, []byte("EXISTING=keep\n"), 0o600))

	err := Run(context.Background(), &Options{
		Config:   cfg,
		TokenURL: endpoint.server.URL,
		OpenBrowser: func(authURL string) error {
			go redirect(t, authURL, nil)
			return nil
		},
	})
	require.NoError(t, err)

	saved, err := os.ReadFile(cfg.OAuth.EnvFile)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(saved), "EXISTING=keep\n"))
	require.Contains(t, string(saved), "ALEXA_REFRESH_TOKEN=rt-456\n")
}

func TestRun_RejectsMismatchedState(t *testing.T) {
	port := freePort(t)
	endpoint := newTokenEndpoint(t)
	cfg := testConfig(t, port)

	err := Run(context.Background(), &Options{
		Config:   cfg,
		TokenURL: endpoint.server.URL,
		OpenBrowser: func(authURL string) error {
			go func() {
				forged := url.Values{}
				forged.Set("state", "not-the-state")

				response := redirect(t, authURL, forged)
				require.Equal(t, http.StatusBadRequest, response.StatusCode)

				// The listener keeps waiting, so the genuine redirect succeeds.
				redirect(t, authURL, nil)
			}()

			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, "auth-code-1", endpoint.receivedForm.Get("code"))
}

func TestRun_RejectsMissingCode(t *testing.T) {
	port := freePort(t)
	endpoint := newTokenEndpoint(t)
	cfg := testConfig(t, port)

	err := Run(context.Background(), &Options{
		Config:   cfg,
		TokenURL: endpoint.server.URL,
		OpenBrowser: func(authURL string) error {
			go func() {
				empty := url.Values{}
				empty.Set("code", "")

				response := redirect(t, authURL, empty)
				require.Equal(t, http.StatusBadRequest, response.StatusCode)

				redirect(t, authURL, nil)
			}()

			return nil
		},
	})
	require.NoError(t, err)
}

func TestRun_RequiresClientCredentials(t *testing.T) {
	cfg := testConfig(t, 3000)
	cfg.OAuth.ClientSecret = ""

	err := Run(context.Background(), &Options{Config: cfg})
	require.ErrorIs(t, err, errCredentialsRequired)
}

func TestRun_RequiresConfig(t *testing.T) {
	err := Run(context.Background(), &Options{})
	require.ErrorIs(t, err, errCredentialsRequired)
}

func TestRun_TokenEndpointFailure(t *testing.T) {
	port := freePort(t)
	endpoint := newTokenEndpoint(t)
	endpoint.status = http.StatusBadRequest
	endpoint.body = `{"error":"invalid_grant"}`

	cfg := testConfig(t, port)

	err := Run(context.Background(), &Options{
		Config:   cfg,
		TokenURL: endpoint.server.URL,
		OpenBrowser: func(authURL string) error {
			go redirect(t, authURL, nil)
			return nil
		},
	})
	require.ErrorContains(t, err, "invalid_grant")

	_, statErr := os.Stat(cfg.OAuth.EnvFile)
	require.True(t, os.IsNotExist(statErr))
}

func TestRun_MissingRefreshTokenInResponse(t *testing.T) {
	port := freePort(t)
	endpoint := newTokenEndpoint(t)
	endpoint.body = `{"access_token":"at-only"}`

	cfg := testConfig(t, port)

	err := Run(context.Background(), &Options{
		Config:   cfg,
		TokenURL: endpoint.server.URL,
		OpenBrowser: func(authURL string) error {
			go redirect(t, authURL, nil)
			return nil
		},
	})
	require.ErrorIs(t, err, errNoRefreshToken)
}

func TestRun_CancelledBeforeCallback(t *testing.T) {
	port := freePort(t)
	cfg := testConfig(t, port)

	ctx, cancel := context.WithCancel(context.Background())

	err := Run(ctx, &Options{
		Config: cfg,
		OpenBrowser: func(string) error {
			cancel()
			return nil
		},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAuthorizationURL(t *testing.T) {
	f, err := newFlow(&Options{Config: testConfig(t, 4242)})
	require.NoError(t, err)

	parsed, parseErr := url.Parse(f.authorizationURL())
	require.NoError(t, parseErr)
	require.Equal(t, "www.amazon.com", parsed.Host)

	query := parsed.Query()
	require.Equal(t, "client-id", query.Get("client_id"))
	require.Equal(t, "alexa::ask:skills:readwrite", query.Get("scope"))
	require.Equal(t, "http://localhost:4242/callback", query.Get("redirect_uri"))
	require.Equal(t, f.state, query.Get("state"))
}

package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"

	"github.com/oshokin/skill-deployer/internal/config"
	"github.com/oshokin/skill-deployer/internal/logger"
)

const (
	// defaultAuthorizeURL is the Login-with-Amazon authorization endpoint.
	defaultAuthorizeURL = "https://www.amazon.com/ap/oa"

	// defaultTokenURL is the Login-with-Amazon token exchange endpoint.
	defaultTokenURL = "https://api.amazon.com/auth/o2/token" //nolint:gosec // Endpoint URL, not a credential.

	// requestedScope grants read/write access to the skill definition.
	requestedScope = "alexa::ask:skills:readwrite"

	// callbackPath is the local path the provider redirects back to.
	callbackPath = "/callback"

	// envTokenKey is the settings-file key the refresh token is stored under.
	envTokenKey = "ALEXA_REFRESH_TOKEN"

	// exchangeTimeout bounds the code-for-token exchange request.
	exchangeTimeout = 30 * time.Second

	// shutdownTimeout bounds the callback listener shutdown.
	shutdownTimeout = 5 * time.Second
)

var (
	// errCredentialsRequired is returned when the OAuth client id or secret is missing.
	errCredentialsRequired = errors.New("oauth client id and secret must be configured")

	// errNoRefreshToken is returned when the provider's response carries no refresh token.
	errNoRefreshToken = errors.New("token response carries no refresh token")
)

// Options contains inputs for the token helper entry point.
type Options struct {
	// Config is the fully resolved configuration. Required.
	Config *config.Config
	// AuthorizeURL and TokenURL override the provider endpoints in tests.
	AuthorizeURL string
	TokenURL     string
	// OpenBrowser overrides browser launching in tests.
	OpenBrowser func(url string) error
}

// flow holds the state of a single authorization-code exchange.
// It is unexported—callers should use Run, which encapsulates setup.
type flow struct {
	// cfg holds the OAuth client settings.
	cfg config.OAuthConfig
	// authorizeURL is the provider's authorization endpoint.
	authorizeURL string
	// tokenURL is the provider's token exchange endpoint.
	tokenURL string
	// state is the anti-forgery value round-tripped through the provider.
	state string
	// openBrowser launches the system browser.
	openBrowser func(url string) error
	// client performs the token exchange.
	client *http.Client
}

// callback carries the authorization code delivered to the local listener.
type callback struct {
	code string
}

// Run obtains a refresh token via the authorization-code flow and appends it
// to the local settings file.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "skill-token")

	f, err := newFlow(opts)
	if err != nil {
		return fmt.Errorf("initialize token helper: %w", err)
	}

	refreshToken, err := f.obtain(ctx)
	if err != nil {
		return err
	}

	logger.Info(ctx, "Successfully obtained tokens!")
	logger.Infof(ctx, "Refresh token (save this securely!): %s", refreshToken)

	if err = appendToEnvFile(f.envFilePath(), refreshToken); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Refresh token saved", "path", f.envFilePath())

	return nil
}

// newFlow validates the configuration and prepares the exchange.
func newFlow(opts *Options) (*flow, error) {
	if opts == nil || opts.Config == nil {
		return nil, errCredentialsRequired
	}

	oauth := opts.Config.OAuth
	if oauth.ClientID == "" || oauth.ClientSecret == "" {
		return nil, errCredentialsRequired
	}

	f := &flow{
		cfg:          oauth,
		authorizeURL: defaultAuthorizeURL,
		tokenURL:     defaultTokenURL,
		state:        uuid.NewString(),
		openBrowser:  browser.OpenURL,
		client: &http.Client{
			Timeout: exchangeTimeout,
		},
	}

	if opts.AuthorizeURL != "" {
		f.authorizeURL = opts.AuthorizeURL
	}

	if opts.TokenURL != "" {
		f.tokenURL = opts.TokenURL
	}

	if opts.OpenBrowser != nil {
		f.openBrowser = opts.OpenBrowser
	}

	return f, nil
}

// envFilePath returns the settings file receiving the refresh token.
func (f *flow) envFilePath() string {
	return f.cfg.EnvFile
}

// redirectURI returns the local callback address registered with the provider.
func (f *flow) redirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", f.cfg.RedirectPort, callbackPath)
}

// authorizationURL builds the provider URL the operator signs in at.
func (f *flow) authorizationURL() string {
	query := url.Values{}
	query.Set("client_id", f.cfg.ClientID)
	query.Set("scope", requestedScope)
	query.Set("response_type", "code")
	query.Set("redirect_uri", f.redirectURI())
	query.Set("state", f.state)

	return f.authorizeURL + "?" + query.Encode()
}

// obtain runs the local listener, sends the operator to the provider and
// exchanges the delivered code for a refresh token.
func (f *flow) obtain(ctx context.Context) (string, error) {
	delivered := make(chan callback, 1)

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", f.cfg.RedirectPort))
	if err != nil {
		return "", fmt.Errorf("start callback listener: %w", err)
	}

	server := &http.Server{
		Handler:           f.callbackHandler(ctx, delivered),
		ReadHeaderTimeout: exchangeTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- server.Serve(listener)
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := f.authorizationURL()

	logger.Info(ctx, "Starting local server to handle the OAuth callback")
	logger.Infof(ctx, "If your browser doesn't open automatically, please visit:\n%s", authURL)

	if err = f.openBrowser(authURL); err != nil {
		logger.WarnKV(ctx, "Could not open browser, open the URL manually", "error", err)
	}

	logger.Info(ctx, "Waiting for authorization... (press Ctrl+C to cancel)")

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("authorization cancelled: %w", ctx.Err())
	case err = <-serveErr:
		return "", fmt.Errorf("callback listener failed: %w", err)
	case received := <-delivered:
		return f.exchange(ctx, received.code)
	}
}

// callbackHandler accepts the provider redirect. Requests without a code or
// with a mismatched state are rejected and the listener keeps waiting.
func (f *flow) callbackHandler(ctx context.Context, delivered chan<- callback) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		code := query.Get("code")
		if code == "" {
			http.Error(w, "No authorization code received", http.StatusBadRequest)
			return
		}

		if query.Get("state") != f.state {
			logger.Warn(ctx, "Rejected callback with mismatched state")
			http.Error(w, "State mismatch", http.StatusBadRequest)

			return
		}

		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html><body><h1>Success!</h1>"+
			"<p>You can close this window and return to the terminal.</p></body></html>")

		select {
		case delivered <- callback{code: code}:
		default:
			// A code was already delivered; ignore duplicates.
		}
	})

	return mux
}

// exchange trades the authorization code for tokens at the provider.
func (f *flow) exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", f.redirectURI())
	form.Set("client_id", f.cfg.ClientID)
	form.Set("client_secret", f.cfg.ClientSecret)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := f.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s: %s", response.Status, strings.TrimSpace(string(body)))
	}

	var tokens struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err = json.Unmarshal(body, &tokens); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	if tokens.RefreshToken == "" {
		return "", errNoRefreshToken
	}

	return tokens.RefreshToken, nil
}

// appendToEnvFile adds the refresh token as a line to the settings file,
// creating the file when needed.
func appendToEnvFile(path, refreshToken string) error {
	file, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("open settings file: %w", err)
	}

	_, writeErr := fmt.Fprintf(file, "\n%s=%s\n", envTokenKey, refreshToken)

	if err = file.Close(); err != nil {
		return fmt.Errorf("close settings file: %w", err)
	}

	if writeErr != nil {
		return fmt.Errorf("write settings file: %w", writeErr)
	}

	return nil
}

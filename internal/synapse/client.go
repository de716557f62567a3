// ABOUTME: Registration token client for the Synapse admin API
// ABOUTME: Implements list/get/create/delete/delete-all with typed error mapping

package synapse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// TokensPath is the registration token collection endpoint.
	TokensPath = "/_synapse/admin/v1/registration_tokens"
	// LoginPath is the Matrix password login endpoint.
	LoginPath = "/_matrix/client/v3/login"

	// DefaultExpiryDays is used by CreateToken when no expiry is given.
	DefaultExpiryDays = 7
	// DefaultTimeout bounds every request when Options.Timeout is zero.
	DefaultTimeout = 10 * time.Second
	// DefaultDeviceID is the device used for password logins.
	DefaultDeviceID = "matrix-registration-bot"
)

// Observer receives one observation per HTTP request.
type Observer interface {
	ObserveRequest(op, outcome string, d time.Duration)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Token is a pre-issued admin access token. When empty, Username and
	// Password are exchanged for one on first use.
	Token    string
	Username string
	Password string
	DeviceID string

	Timeout    time.Duration
	HTTPClient func() *http.Client
	Logger     *slog.Logger
	Observer   Observer
	Now        func() time.Time
}

// Client talks to the registration token admin API.
type Client struct {
	sessions *sessionManager
	creds    *credentialResolver

	username string
	password string
	deviceID string
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// New creates a Client. It fails with ErrMissingCredentials if neither a
// static token nor a complete username/password pair is given.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.Token == "" && (opts.Username == "" || opts.Password == "") {
		return nil, ErrMissingCredentials
	}

	newClient := opts.HTTPClient
	if newClient == nil {
		newClient = func() *http.Client { return &http.Client{} }
	}
	c := &Client{
		sessions: newSessionManager(opts.BaseURL, newClient),
		username: opts.Username,
		password: opts.Password,
		deviceID: opts.DeviceID,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      opts.Now,
	}
	if c.deviceID == "" {
		c.deviceID = DefaultDeviceID
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "synapse")
	if c.now == nil {
		c.now = time.Now
	}
	c.creds = &credentialResolver{static: opts.Token, login: c.login}
	return c, nil
}

func (c *Client) String() string {
	return "API connection to " + c.sessions.baseURL
}

// ListTokens returns all registration tokens in server order.
func (c *Client) ListTokens(ctx context.Context) ([]Token, error) {
	var resp struct {
		RegistrationTokens []Token `json:"registration_tokens"`
	}
	if err := c.do(ctx, request{op: "list_tokens", method: http.MethodGet, path: TokensPath}, &resp); err != nil {
		return nil, err
	}
	if resp.RegistrationTokens == nil {
		return []Token{}, nil
	}
	return resp.RegistrationTokens, nil
}

// GetToken returns a single token.
func (c *Client) GetToken(ctx context.Context, token string) (*Token, error) {
	return c.getToken(ctx, "get_token", token)
}

func (c *Client) getToken(ctx context.Context, op, token string) (*Token, error) {
	if !ValidTokenFormat(token) {
		return nil, &APIError{Kind: ErrMalformedInput, Op: op, Token: token}
	}
	var t Token
	req := request{op: op, method: http.MethodGet, path: TokensPath + "/" + token, token: token, tokenLookup: true}
	if err := c.do(ctx, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateToken creates a one-use token expiring expiryDays from now. Zero
// selects DefaultExpiryDays.
func (c *Client) CreateToken(ctx context.Context, expiryDays int) (*Token, error) {
	if expiryDays < 0 {
		return nil, &APIError{Kind: ErrMalformedInput, Op: "create_token", Token: fmt.Sprintf("%d days", expiryDays)}
	}
	if expiryDays == 0 {
		expiryDays = DefaultExpiryDays
	}

	usesAllowed := 1
	expiry := c.now().UnixMilli() + int64(expiryDays)*int64(24*time.Hour/time.Millisecond)
	body := struct {
		UsesAllowed *int   `json:"uses_allowed"`
		ExpiryTime  *int64 `json:"expiry_time"`
	}{&usesAllowed, &expiry}

	var t Token
	if err := c.do(ctx, request{op: "create_token", method: http.MethodPost, path: TokensPath + "/new", body: body}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteToken deletes a token and returns it as it was right before deletion.
// The admin API does not return deleted records, so the token is fetched first.
func (c *Client) DeleteToken(ctx context.Context, token string) (*Token, error) {
	t, err := c.getToken(ctx, "delete_token", token)
	if err != nil {
		return nil, err
	}
	req := request{op: "delete_token", method: http.MethodDelete, path: TokensPath + "/" + token, token: token}
	if err := c.do(ctx, req, nil); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteAllTokens deletes every listed token one after another. The first
// failure stops the batch; the tokens deleted until then are returned with it.
func (c *Client) DeleteAllTokens(ctx context.Context) ([]Token, error) {
	tokens, err := c.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	deleted := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if _, err := c.DeleteToken(ctx, t.Token); err != nil {
			return deleted, err
		}
		deleted = append(deleted, t)
	}
	return deleted, nil
}

// login exchanges username and password for an access token.
func (c *Client) login(ctx context.Context) (string, error) {
	c.logger.Info("fetching API token with password login", "user", c.username)

	body := map[string]any{
		"identifier": map[string]string{"type": "m.id.user", "user": c.username},
		"password":   c.password,
		"type":       "m.login.password",
		"device_id":  c.deviceID,
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.send(ctx, c.sessions.ensure(), "", request{op: "login", method: http.MethodPost, path: LoginPath, body: body}, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &APIError{Kind: ErrAuthFailure, Op: "login", Method: http.MethodPost, URL: c.sessions.baseURL + LoginPath,
			StatusCode: http.StatusOK, Reason: "login response has no access_token"}
	}
	return resp.AccessToken, nil
}

type request struct {
	op          string
	method      string
	path        string
	body        any
	token       string
	tokenLookup bool
}

// do ensures session and credential, then performs the request.
func (c *Client) do(ctx context.Context, r request, out any) error {
	s := c.sessions.ensure()
	cred, err := c.creds.resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving API credential: %w", err)
	}
	return c.send(ctx, s, cred, r, out)
}

func (c *Client) send(ctx context.Context, s *Session, cred string, r request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, s.BaseURL+r.path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if cred != "" {
		req.Header.Set("Authorization", "Bearer "+cred)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	err = c.roundTrip(s, req, r, out)
	elapsed := time.Since(start)

	if c.observer != nil {
		c.observer.ObserveRequest(r.op, Outcome(err), elapsed)
	}
	c.logger.Debug("admin api request",
		"op", r.op,
		"method", r.method,
		"path", r.path,
		"outcome", Outcome(err),
		"duration", elapsed,
	)
	return err
}

func (c *Client) roundTrip(s *Session, req *http.Request, r request, out any) error {
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return transportError(r.op, req, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(r.op, resp, r.token, r.tokenLookup); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{
			Kind:       ErrConnectivity,
			Op:         r.op,
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Reason:     "invalid response body",
			Err:        err,
		}
	}
	return nil
}

package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
	"github.com/Alijah8/adwood-crm/storage"
)

// Config configures a [Client].
type Config struct {
	// URL is the auth service root, e.g. https://<ref>.supabase.co/auth/v1.
	URL string
	// APIKey is the public (anon) key sent as the apikey header.
	APIKey string
	// TokenKey is the device storage key of the session blob.
	TokenKey   string
	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Client talks to the auth service on behalf of one tab.
type Client struct {
	base     *url.URL
	apiKey   string
	tokenKey string
	http     *http.Client
	clock    clockwork.Clock
	logger   *slog.Logger
	store    storage.Storage

	mu        sync.Mutex
	listeners map[uint64]func(provider.AuthChange)
	nextID    uint64
}

var _ provider.Identity = (*Client)(nil)

// New returns a client persisting its session in store.
func New(store storage.Storage, cfg Config) (*Client, error) {
	if store == nil {
		return nil, errors.New("gotrue: storage is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gotrue: invalid service url %q", cfg.URL)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gotrue: api key is required")
	}
	if cfg.TokenKey == "" {
		return nil, errors.New("gotrue: token key is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:      base,
		apiKey:    cfg.APIKey,
		tokenKey:  cfg.TokenKey,
		http:      cfg.HTTPClient,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		store:     store,
		listeners: make(map[uint64]func(provider.AuthChange)),
	}, nil
}

/* ==== Identity ==== */

// GetPersistedSession implements [provider.Identity].
func (c *Client) GetPersistedSession(ctx context.Context) (*session.Session, error) {
	raw, ok, err := c.store.Get(ctx, c.tokenKey)
	if err != nil {
		return nil, errors.Join(provider.ErrUnavailable, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	sess, err := session.Decode([]byte(raw))
	if err != nil {
		c.logger.Warn("gotrue: dropping unreadable token blob", "key", c.tokenKey, "err", err)
		if rmErr := c.store.Remove(ctx, c.tokenKey); rmErr != nil {
			c.logger.Warn("gotrue: remove token blob", "err", rmErr)
		}
		return nil, nil
	}
	return sess, nil
}

// RefreshSession implements [provider.Identity].
func (c *Client) RefreshSession(ctx context.Context) (*session.Session, error) {
	current, err := c.GetPersistedSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, provider.ErrNoSession
	}

	var tok tokenResponse
	err = c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": current.RefreshToken}, &tok)
	if err != nil {
		if isClientError(err) {
			_ = c.store.Remove(ctx, c.tokenKey)
			return nil, fmt.Errorf("%w: %v", provider.ErrInvalidRefreshToken, err)
		}
		return nil, err
	}
	next, err := c.sessionFrom(tok)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, next); err != nil {
		return nil, err
	}
	c.emit(provider.AuthChange{Kind: provider.AuthTokenRefreshed, Session: next.Clone()})
	return next, nil
}

// SignInWithPassword implements [provider.Identity]. Every 4xx answer maps
// to [provider.ErrInvalidCredentials].
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	var tok tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "",
		map[string]string{"email": email, "password": password}, &tok)
	if err != nil {
		if isClientError(err) {
			return nil, provider.ErrInvalidCredentials
		}
		return nil, err
	}
	sess, err := c.sessionFrom(tok)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, sess); err != nil {
		return nil, err
	}
	c.emit(provider.AuthChange{Kind: provider.AuthSignedIn, Session: sess.Clone()})
	return sess, nil
}

// SignOut implements [provider.Identity]. A 401 or 404 means the session is
// already gone remotely and counts as success.
func (c *Client) SignOut(ctx context.Context) error {
	current, err := c.GetPersistedSession(ctx)
	if err != nil {
		return err
	}
	if current != nil {
		err := c.do(ctx, http.MethodPost, "/logout?scope=local", current.AccessToken, nil, nil)
		var apiErr *APIError
		if err != nil && !(errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound)) {
			return err
		}
	}
	if err := c.store.Remove(ctx, c.tokenKey); err != nil {
		return errors.Join(provider.ErrUnavailable, err)
	}
	c.emit(provider.AuthChange{Kind: provider.AuthSignedOut})
	return nil
}

// OnAuthStateChange implements [provider.Identity].
func (c *Client) OnAuthStateChange(fn func(provider.AuthChange)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// ResetPasswordForEmail implements [provider.Identity].
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?" + url.Values{"redirect_to": {redirectTo}}.Encode()
	}
	return c.do(ctx, http.MethodPost, path, "", map[string]string{"email": email}, nil)
}

// UpdateUserPassword implements [provider.Identity].
func (c *Client) UpdateUserPassword(ctx context.Context, newPassword string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/user", token, map[string]string{"password": newPassword}, nil)
}

// MFA implements [provider.Identity].
func (c *Client) MFA() provider.MFA { return mfaClient{c} }

func (c *Client) emit(change provider.AuthChange) {
	c.mu.Lock()
	fns := make([]func(provider.AuthChange), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func (c *Client) persist(ctx context.Context, sess *session.Session) error {
	blob, err := session.Encode(sess)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.tokenKey, string(blob)); err != nil {
		return errors.Join(provider.ErrUnavailable, err)
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	sess, err := c.GetPersistedSession(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", provider.ErrNoSession
	}
	return sess.AccessToken, nil
}

/* ==== Transport ==== */

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gotrue: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gotrue: %d: %s", e.Status, e.Message)
}

// Unwrap maps server errors onto [provider.ErrUnavailable].
func (e *APIError) Unwrap() error {
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return provider.ErrUnavailable
	}
	return nil
}

func isClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
}

type errorBody struct {
	Code             string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	target := c.base.String() + path

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		apiErr := &APIError{Status: resp.StatusCode, Code: eb.Code, Message: firstNonEmpty(eb.Msg, eb.Message, eb.ErrorDescription, eb.Error)}
		if apiErr.Code == "" {
			apiErr.Code = eb.Error
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gotrue: decode %s %s: %w", method, path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package memory

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
	"github.com/Alijah8/adwood-crm/storage"
)

// DefaultTokenKey is the device storage key holding the token blob.
const DefaultTokenKey = "sb-kddkibsrdgtcorhrtjip-auth-token"

// Client is the identity provider client of one tab. It persists the token
// blob in the tab's device storage, so every client sharing the storage sees
// the same signed-in session.
type Client struct {
	backend  *Backend
	store    storage.Storage
	tokenKey string
	logger   *slog.Logger

	mu        sync.Mutex
	listeners map[uint64]func(provider.AuthChange)
	nextID    uint64
}

// Client returns a client for one tab persisting under tokenKey in store.
// An empty tokenKey uses [DefaultTokenKey].
func (b *Backend) Client(store storage.Storage, tokenKey string, logger *slog.Logger) *Client {
	if tokenKey == "" {
		tokenKey = DefaultTokenKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:   b,
		store:     store,
		tokenKey:  tokenKey,
		logger:    logger,
		listeners: make(map[uint64]func(provider.AuthChange)),
	}
}

var (
	_ provider.Identity = (*Client)(nil)
	_ provider.Profiles = (*Backend)(nil)
)

// TokenKey returns the storage key of the token blob.
func (c *Client) TokenKey() string { return c.tokenKey }

// GetPersistedSession implements [provider.Identity]. A blob that cannot be
// decoded is removed and reported as no session.
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
		c.logger.Warn("memory provider: dropping unreadable token blob", "key", c.tokenKey, "err", err)
		if rmErr := c.store.Remove(ctx, c.tokenKey); rmErr != nil {
			c.logger.Warn("memory provider: remove token blob", "err", rmErr)
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
	next, err := c.backend.refresh(current.RefreshToken)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidRefreshToken) {
			// A dead refresh token will never work again.
			_ = c.store.Remove(ctx, c.tokenKey)
		}
		return nil, err
	}
	if err := c.persist(ctx, next); err != nil {
		return nil, err
	}
	c.emit(provider.AuthChange{Kind: provider.AuthTokenRefreshed, Session: next.Clone()})
	return next, nil
}

// SignInWithPassword implements [provider.Identity].
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := c.backend.signIn(email, password)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, sess); err != nil {
		return nil, err
	}
	c.emit(provider.AuthChange{Kind: provider.AuthSignedIn, Session: sess.Clone()})
	return sess, nil
}

// SignOut implements [provider.Identity]. When the remote revocation fails
// the token blob is left in place and the error returned.
func (c *Client) SignOut(ctx context.Context) error {
	current, err := c.GetPersistedSession(ctx)
	if err != nil {
		return err
	}
	if current != nil {
		if err := c.backend.signOut(current.RefreshToken); err != nil {
			return err
		}
	}
	if err := c.store.Remove(ctx, c.tokenKey); err != nil {
		return errors.Join(provider.ErrUnavailable, err)
	}
	c.emit(provider.AuthChange{Kind: provider.AuthSignedOut})
	return nil
}

// OnAuthStateChange implements [provider.Identity]. Listeners run
// synchronously after the operation that caused the change.
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
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.backend.resetPassword(email, redirectTo)
}

// UpdateUserPassword implements [provider.Identity].
func (c *Client) UpdateUserPassword(ctx context.Context, newPassword string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.backend.updatePassword(token, newPassword)
}

// MFA implements [provider.Identity].
func (c *Client) MFA() provider.MFA { return mfaClient{c} }

// Emit delivers change to the registered listeners, as the hosted client
// does for changes it learns about on its own.
func (c *Client) Emit(change provider.AuthChange) { c.emit(change) }

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

type mfaClient struct{ c *Client }

func (m mfaClient) ListFactors(ctx context.Context) ([]provider.Factor, error) {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return m.c.backend.listFactors(token)
}

func (m mfaClient) Enroll(ctx context.Context, friendlyName string) (*provider.Enrollment, error) {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return m.c.backend.enroll(token, friendlyName)
}

func (m mfaClient) Challenge(ctx context.Context, factorID string) (*provider.Challenge, error) {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return m.c.backend.challenge(token, factorID)
}

func (m mfaClient) Verify(ctx context.Context, factorID, challengeID, code string) (*session.Session, error) {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := m.c.backend.verify(token, factorID, challengeID, code)
	if err != nil {
		return nil, err
	}
	if err := m.c.persist(ctx, sess); err != nil {
		return nil, err
	}
	m.c.emit(provider.AuthChange{Kind: provider.AuthTokenRefreshed, Session: sess.Clone()})
	return sess, nil
}

func (m mfaClient) Unenroll(ctx context.Context, factorID string) error {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return err
	}
	return m.c.backend.unenroll(token, factorID)
}

func (m mfaClient) GetAssuranceLevel(ctx context.Context) (provider.AssuranceLevels, error) {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return provider.AssuranceLevels{}, err
	}
	return m.c.backend.assurance(token)
}

func sortFactors(fs []provider.Factor) {
	slices.SortFunc(fs, func(a, b provider.Factor) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

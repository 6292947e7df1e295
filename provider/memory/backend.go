package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/Alijah8/adwood-crm/jwt"
	"github.com/Alijah8/adwood-crm/password"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/refresh"
	"github.com/Alijah8/adwood-crm/session"
)

// Op names a backend operation for call counting and failure injection.
type Op string

const (
	OpSignIn         Op = "sign_in"
	OpRefresh        Op = "refresh"
	OpSignOut        Op = "sign_out"
	OpResetPassword  Op = "reset_password"
	OpUpdatePassword Op = "update_password"
	OpGetProfile     Op = "get_profile"
	OpUpdateProfile  Op = "update_profile"
	OpListFactors    Op = "mfa_list_factors"
	OpEnroll         Op = "mfa_enroll"
	OpChallenge      Op = "mfa_challenge"
	OpVerify         Op = "mfa_verify"
	OpUnenroll       Op = "mfa_unenroll"
	OpAssurance      Op = "mfa_assurance"
)

// Config configures a [Backend].
type Config struct {
	// Issuer is shown in authenticator apps.
	Issuer    string
	AccessTTL time.Duration
	// SigningKey is the HS256 key for access tokens; generated when empty.
	SigningKey   []byte
	Password     password.Config
	ChallengeTTL time.Duration
	Clock        clockwork.Clock
}

// DefaultConfig returns a backend configuration suitable for the demo server.
func DefaultConfig() Config {
	return Config{
		Issuer:       "Adwood CRM",
		AccessTTL:    time.Hour,
		Password:     password.DefaultConfig(),
		ChallengeTTL: 5 * time.Minute,
	}
}

// UserSpec seeds one staff account.
type UserSpec struct {
	Email    string
	Password string
	Name     string
	Role     permission.Role
	Active   bool
	Phone    string
}

type user struct {
	id           string
	email        string
	passwordHash string
	factors      map[string]*factor
}

type factor struct {
	provider.Factor
	secret string
}

type refreshRecord struct {
	userID string
	hash   [32]byte
	aal    session.AAL
}

type challenge struct {
	provider.Challenge
	userID string
}

// ResetRequest records one password-reset e-mail the backend would send.
type ResetRequest struct {
	Email      string
	RedirectTo string
	At         time.Time
}

// Backend is the server side of the in-process identity provider: accounts,
// refresh sessions, TOTP factors and the profiles table. Clients for
// individual tabs are created with [Backend.Client].
type Backend struct {
	config Config
	clock  clockwork.Clock
	jwt    *jwt.Manager
	hasher *password.Argon2

	mu         sync.Mutex
	users      map[string]*user // by id
	byEmail    map[string]string
	profiles   map[string]*session.Profile
	sessions   map[refresh.SessionID]*refreshRecord
	challenges map[string]*challenge
	resets     []ResetRequest
	calls      map[Op]int
	failures   map[Op]error
}

// NewBackend creates an empty backend.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "Adwood CRM"
	}
	if len(cfg.SigningKey) == 0 {
		secret, err := refresh.NewSecret()
		if err != nil {
			return nil, err
		}
		cfg.SigningKey = secret[:]
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.AccessTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    cfg.SigningKey,
		Issuer:        cfg.Issuer,
		Now:           cfg.Clock.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("memory provider: %w", err)
	}
	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("memory provider: %w", err)
	}

	return &Backend{
		config:     cfg,
		clock:      cfg.Clock,
		jwt:        jm,
		hasher:     hasher,
		users:      make(map[string]*user),
		byEmail:    make(map[string]string),
		profiles:   make(map[string]*session.Profile),
		sessions:   make(map[refresh.SessionID]*refreshRecord),
		challenges: make(map[string]*challenge),
		calls:      make(map[Op]int),
		failures:   make(map[Op]error),
	}, nil
}

// AddUser creates an account and its profile row and returns the subject id.
func (b *Backend) AddUser(spec UserSpec) (string, error) {
	email := normalizeEmail(spec.Email)
	if email == "" {
		return "", errors.New("memory provider: empty email")
	}
	if !spec.Role.Valid() {
		return "", fmt.Errorf("memory provider: invalid role %q", spec.Role)
	}
	hash, err := b.hasher.Hash(spec.Password)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byEmail[email]; ok {
		return "", fmt.Errorf("memory provider: %s already exists", email)
	}

	id := uuid.NewString()
	now := b.clock.Now().UTC()
	b.users[id] = &user{id: id, email: email, passwordHash: hash, factors: make(map[string]*factor)}
	b.byEmail[email] = id
	prof := &session.Profile{
		ID:        id,
		Email:     email,
		Name:      spec.Name,
		Role:      spec.Role,
		Active:    spec.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if spec.Phone != "" {
		phone := spec.Phone
		prof.Phone = &phone
	}
	b.profiles[id] = prof
	return id, nil
}

// SetActive flips the active flag of a profile, as an administrator would.
func (b *Backend) SetActive(id string, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.profiles[id]; ok {
		p.Active = active
		p.UpdatedAt = b.clock.Now().UTC()
	}
}

// SetRole changes the role of a profile.
func (b *Backend) SetRole(id string, role permission.Role) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.profiles[id]; ok {
		p.Role = role
	}
}

// RevokeSessions drops every refresh session of the user.
func (b *Backend) RevokeSessions(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sid, rec := range b.sessions {
		if rec.userID == id {
			delete(b.sessions, sid)
		}
	}
}

// SetFailure makes every call of op fail with err until cleared with a nil
// err.
func (b *Backend) SetFailure(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// Calls returns how many times op was invoked, including failed calls.
func (b *Backend) Calls(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// ResetRequests returns the reset e-mails requested so far.
func (b *Backend) ResetRequests() []ResetRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ResetRequest(nil), b.resets...)
}

// ActiveSessions returns the number of live refresh sessions.
func (b *Backend) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Profile returns a copy of the stored profile row.
func (b *Backend) Profile(id string) (*session.Profile, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.profiles[id]
	return p.Clone(), ok
}

// enterLocked counts op and returns its injected failure.
func (b *Backend) enterLocked(op Op) error {
	b.calls[op]++
	if err := b.failures[op]; err != nil {
		return err
	}
	return nil
}

func (b *Backend) signIn(email, pw string) (*session.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpSignIn); err != nil {
		return nil, err
	}

	id, ok := b.byEmail[normalizeEmail(email)]
	if !ok {
		// Burn a comparable amount of work so timing does not reveal
		// whether the account exists.
		_, _ = b.hasher.Hash(strings.Repeat("x", password.MinLength))
		return nil, provider.ErrInvalidCredentials
	}
	u := b.users[id]
	match, err := b.hasher.Verify(pw, u.passwordHash)
	if err != nil || !match {
		return nil, provider.ErrInvalidCredentials
	}
	return b.newSessionLocked(u, session.AAL1)
}

func (b *Backend) newSessionLocked(u *user, aal session.AAL) (*session.Session, error) {
	sid, err := refresh.NewSessionID()
	if err != nil {
		return nil, err
	}
	return b.issueLocked(u, sid, aal)
}

func (b *Backend) issueLocked(u *user, sid refresh.SessionID, aal session.AAL) (*session.Session, error) {
	token, hash, err := refresh.Issue(sid)
	if err != nil {
		return nil, err
	}
	access, exp, err := b.jwt.CreateAccess(jwt.AccessInput{
		Subject:   u.id,
		SessionID: sid.String(),
		Email:     u.email,
		AAL:       string(aal),
	})
	if err != nil {
		return nil, err
	}
	b.sessions[sid] = &refreshRecord{userID: u.id, hash: hash, aal: aal}
	return &session.Session{
		SubjectID:    u.id,
		Email:        u.email,
		AccessToken:  access,
		RefreshToken: token,
		ExpiresAt:    exp,
		AAL:          aal,
	}, nil
}

// refresh rotates the refresh token. A reused or revoked token fails.
func (b *Backend) refresh(token string) (*session.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpRefresh); err != nil {
		return nil, err
	}

	sid, secret, err := refresh.Decode(token)
	if err != nil {
		return nil, provider.ErrInvalidRefreshToken
	}
	rec, ok := b.sessions[sid]
	if !ok || !secret.Matches(rec.hash) {
		return nil, provider.ErrInvalidRefreshToken
	}
	u, ok := b.users[rec.userID]
	if !ok {
		delete(b.sessions, sid)
		return nil, provider.ErrInvalidRefreshToken
	}
	return b.issueLocked(u, sid, rec.aal)
}

func (b *Backend) signOut(token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpSignOut); err != nil {
		return err
	}
	if sid, _, err := refresh.Decode(token); err == nil {
		delete(b.sessions, sid)
	}
	return nil
}

// authorizeLocked verifies an access token against a live refresh session.
func (b *Backend) authorizeLocked(accessToken string) (*user, *jwt.AccessClaims, error) {
	claims, err := b.jwt.ParseAccess(accessToken)
	if err != nil {
		return nil, nil, provider.ErrNoSession
	}
	sid, err := refresh.ParseSessionID(claims.SessionID)
	if err != nil {
		return nil, nil, provider.ErrNoSession
	}
	if _, ok := b.sessions[sid]; !ok {
		return nil, nil, provider.ErrNoSession
	}
	u, ok := b.users[claims.Subject]
	if !ok {
		return nil, nil, provider.ErrNoSession
	}
	return u, claims, nil
}

func (b *Backend) resetPassword(email, redirectTo string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpResetPassword); err != nil {
		return err
	}
	// Unknown addresses succeed silently.
	if _, ok := b.byEmail[normalizeEmail(email)]; ok {
		b.resets = append(b.resets, ResetRequest{
			Email:      normalizeEmail(email),
			RedirectTo: redirectTo,
			At:         b.clock.Now(),
		})
	}
	return nil
}

func (b *Backend) updatePassword(accessToken, newPassword string) error {
	hash, err := b.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpUpdatePassword); err != nil {
		return err
	}
	u, _, err := b.authorizeLocked(accessToken)
	if err != nil {
		return err
	}
	u.passwordHash = hash
	return nil
}

// GetProfile implements [provider.Profiles].
func (b *Backend) GetProfile(ctx context.Context, id string) (*session.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpGetProfile); err != nil {
		return nil, err
	}
	p, ok := b.profiles[id]
	if !ok {
		return nil, provider.ErrProfileNotFound
	}
	return p.Clone(), nil
}

// UpdateProfile implements [provider.Profiles].
func (b *Backend) UpdateProfile(ctx context.Context, id string, patch provider.ProfilePatch) (*session.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpUpdateProfile); err != nil {
		return nil, err
	}
	p, ok := b.profiles[id]
	if !ok {
		return nil, provider.ErrProfileNotFound
	}
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = b.clock.Now()
	}
	updated := patch.Apply(p)
	b.profiles[id] = updated
	return updated.Clone(), nil
}

func (b *Backend) listFactors(accessToken string) ([]provider.Factor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpListFactors); err != nil {
		return nil, err
	}
	u, _, err := b.authorizeLocked(accessToken)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Factor, 0, len(u.factors))
	for _, f := range u.factors {
		out = append(out, f.Factor)
	}
	sortFactors(out)
	return out, nil
}

func (b *Backend) enroll(accessToken, friendlyName string) (*provider.Enrollment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpEnroll); err != nil {
		return nil, err
	}
	u, _, err := b.authorizeLocked(accessToken)
	if err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      b.config.Issuer,
		AccountName: u.email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	f := &factor{
		Factor: provider.Factor{
			ID:           uuid.NewString(),
			Type:         provider.FactorTOTP,
			Status:       provider.FactorUnverified,
			FriendlyName: friendlyName,
			CreatedAt:    b.clock.Now().UTC(),
		},
		secret: key.Secret(),
	}
	u.factors[f.ID] = f

	enrollment := &provider.Enrollment{FactorID: f.ID, Secret: key.Secret(), URI: key.URL()}
	if img, err := key.Image(200, 200); err == nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err == nil {
			enrollment.QRCode = buf.Bytes()
		}
	}
	return enrollment, nil
}

func (b *Backend) challenge(accessToken, factorID string) (*provider.Challenge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpChallenge); err != nil {
		return nil, err
	}
	u, _, err := b.authorizeLocked(accessToken)
	if err != nil {
		return nil, err
	}
	if _, ok := u.factors[factorID]; !ok {
		return nil, provider.ErrFactorNotFound
	}
	c := &challenge{
		Challenge: provider.Challenge{
			ID:        uuid.NewString(),
			FactorID:  factorID,
			ExpiresAt: b.clock.Now().Add(b.config.ChallengeTTL),
		},
		userID: u.id,
	}
	b.challenges[c.ID] = c
	out := c.Challenge
	return &out, nil
}

// verify checks a TOTP code and upgrades the caller's session to aal2.
func (b *Backend) verify(accessToken, factorID, challengeID, code string) (*session.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpVerify); err != nil {
		return nil, err
	}
	u, claims, err := b.authorizeLocked(accessToken)
	if err != nil {
		return nil, err
	}
	f, ok := u.factors[factorID]
	if !ok {
		return nil, provider.ErrFactorNotFound
	}
	c, ok := b.challenges[challengeID]
	if !ok || c.userID != u.id || c.FactorID != factorID {
		return nil, provider.ErrChallengeInvalid
	}
	// Challenges are single use.
	delete(b.challenges, challengeID)
	now := b.clock.Now()
	if now.After(c.ExpiresAt) {
		return nil, provider.ErrChallengeInvalid
	}

	valid, err := totp.ValidateCustom(code, f.secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return nil, provider.ErrInvalidCode
	}

	f.Status = provider.FactorVerified
	sid, err := refresh.ParseSessionID(claims.SessionID)
	if err != nil {
		return nil, provider.ErrNoSession
	}
	return b.issueLocked(u, sid, session.AAL2)
}

func (b *Backend) unenroll(accessToken, factorID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpUnenroll); err != nil {
		return err
	}
	u, _, err := b.authorizeLocked(accessToken)
	if err != nil {
		return err
	}
	if _, ok := u.factors[factorID]; !ok {
		return provider.ErrFactorNotFound
	}
	delete(u.factors, factorID)
	return nil
}

func (b *Backend) assurance(accessToken string) (provider.AssuranceLevels, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enterLocked(OpAssurance); err != nil {
		return provider.AssuranceLevels{}, err
	}
	u, claims, err := b.authorizeLocked(accessToken)
	if err != nil {
		return provider.AssuranceLevels{}, err
	}
	levels := provider.AssuranceLevels{Current: session.AAL(claims.AAL), Next: session.AAL1}
	if levels.Current == "" {
		levels.Current = session.AAL1
	}
	for _, f := range u.factors {
		if f.Status == provider.FactorVerified {
			levels.Next = session.AAL2
			break
		}
	}
	return levels, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

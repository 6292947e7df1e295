package gotrue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/pquerna/otp"

	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
)

const qrSize = 200

type mfaClient struct{ c *Client }

type userResponse struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Factors []factorPayload `json:"factors"`
}

type factorPayload struct {
	ID           string    `json:"id"`
	Type         string    `json:"factor_type"`
	Status       string    `json:"status"`
	FriendlyName string    `json:"friendly_name"`
	CreatedAt    time.Time `json:"created_at"`
}

type enrollResponse struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TOTP struct {
		QRCode string `json:"qr_code"`
		Secret string `json:"secret"`
		URI    string `json:"uri"`
	} `json:"totp"`
}

type challengeResponse struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

func (m mfaClient) user(ctx context.Context) (*userResponse, error) {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var u userResponse
	if err := m.c.do(ctx, http.MethodGet, "/user", token, nil, &u); err != nil {
		return nil, noSession(err)
	}
	return &u, nil
}

// ListFactors returns TOTP factors, oldest first.
func (m mfaClient) ListFactors(ctx context.Context) ([]provider.Factor, error) {
	u, err := m.user(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Factor, 0, len(u.Factors))
	for _, f := range u.Factors {
		if f.Type != provider.FactorTOTP {
			continue
		}
		out = append(out, provider.Factor{
			ID:           f.ID,
			Type:         f.Type,
			Status:       provider.FactorStatus(f.Status),
			FriendlyName: f.FriendlyName,
			CreatedAt:    f.CreatedAt,
		})
	}
	slices.SortFunc(out, func(a, b provider.Factor) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Enroll starts a TOTP enrollment. The service answers with an SVG QR code;
// a PNG is rendered locally from the provisioning URI instead.
func (m mfaClient) Enroll(ctx context.Context, friendlyName string) (*provider.Enrollment, error) {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var resp enrollResponse
	body := map[string]string{"factor_type": provider.FactorTOTP}
	if friendlyName != "" {
		body["friendly_name"] = friendlyName
	}
	if err := m.c.do(ctx, http.MethodPost, "/factors", token, body, &resp); err != nil {
		return nil, noSession(err)
	}

	enrollment := &provider.Enrollment{
		FactorID: resp.ID,
		Secret:   resp.TOTP.Secret,
		URI:      resp.TOTP.URI,
	}
	if resp.TOTP.URI != "" {
		qr, err := renderQR(resp.TOTP.URI)
		if err != nil {
			m.c.logger.Warn("gotrue: render enrollment qr", "err", err)
		} else {
			enrollment.QRCode = qr
		}
	}
	return enrollment, nil
}

func (m mfaClient) Challenge(ctx context.Context, factorID string) (*provider.Challenge, error) {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var resp challengeResponse
	if err := m.c.do(ctx, http.MethodPost, "/factors/"+url.PathEscape(factorID)+"/challenge", token, nil, &resp); err != nil {
		return nil, factorError(err)
	}
	ch := &provider.Challenge{ID: resp.ID, FactorID: factorID}
	if resp.ExpiresAt > 0 {
		ch.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	}
	return ch, nil
}

// Verify checks code and persists the upgraded aal2 session.
func (m mfaClient) Verify(ctx context.Context, factorID, challengeID, code string) (*session.Session, error) {
	token, err := m.c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var tok tokenResponse
	err = m.c.do(ctx, http.MethodPost, "/factors/"+url.PathEscape(factorID)+"/verify", token,
		map[string]string{"challenge_id": challengeID, "code": code}, &tok)
	if err != nil {
		return nil, verifyError(err)
	}
	sess, err := m.c.sessionFrom(tok)
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
	if err := m.c.do(ctx, http.MethodDelete, "/factors/"+url.PathEscape(factorID), token, nil, nil); err != nil {
		return factorError(err)
	}
	return nil
}

// GetAssuranceLevel reads the current level from the held access token and
// the next level from the user's verified factors.
func (m mfaClient) GetAssuranceLevel(ctx context.Context) (provider.AssuranceLevels, error) {
	sess, err := m.c.GetPersistedSession(ctx)
	if err != nil {
		return provider.AssuranceLevels{}, err
	}
	if sess == nil {
		return provider.AssuranceLevels{}, provider.ErrNoSession
	}
	current, err := assuranceOf(sess.AccessToken)
	if err != nil {
		return provider.AssuranceLevels{}, err
	}
	factors, err := m.ListFactors(ctx)
	if err != nil {
		return provider.AssuranceLevels{}, err
	}
	levels := provider.AssuranceLevels{Current: current, Next: session.AAL1}
	for _, f := range factors {
		if f.Status == provider.FactorVerified {
			levels.Next = session.AAL2
			break
		}
	}
	return levels, nil
}

func renderQR(uri string) ([]byte, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, err
	}
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func status(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func noSession(err error) error {
	if status(err) == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", provider.ErrNoSession, err)
	}
	return err
}

func factorError(err error) error {
	if status(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %v", provider.ErrFactorNotFound, err)
	}
	return noSession(err)
}

func verifyError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Status == http.StatusNotFound:
		return fmt.Errorf("%w: %v", provider.ErrFactorNotFound, err)
	case apiErr.Status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", provider.ErrNoSession, err)
	case strings.Contains(apiErr.Code, "challenge"):
		return fmt.Errorf("%w: %v", provider.ErrChallengeInvalid, err)
	case isClientError(err):
		return fmt.Errorf("%w: %v", provider.ErrInvalidCode, err)
	}
	return err
}

package gotrue

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// accessClaims is the subset of the service's access token we read.
type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	AAL   string `json:"aal"`
}

var errMalformedToken = errors.New("gotrue: malformed access token")

func parseClaims(token string) (*accessClaims, error) {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedToken, err)
	}
	return &claims, nil
}

func assuranceOf(token string) (session.AAL, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return "", err
	}
	if claims.AAL == string(session.AAL2) {
		return session.AAL2, nil
	}
	return session.AAL1, nil
}

// sessionFrom builds a session from a token grant. Fields missing from the
// body fall back to the access token's claims.
func (c *Client) sessionFrom(tok tokenResponse) (*session.Session, error) {
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token grant without tokens", provider.ErrUnavailable)
	}
	claims, err := parseClaims(tok.AccessToken)
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		SubjectID:    tok.User.ID,
		Email:        tok.User.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		AAL:          session.AAL1,
	}
	if sess.SubjectID == "" {
		sess.SubjectID = claims.Subject
	}
	if sess.Email == "" {
		sess.Email = claims.Email
	}
	if claims.AAL == string(session.AAL2) {
		sess.AAL = session.AAL2
	}

	switch {
	case tok.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(tok.ExpiresAt, 0).UTC()
	case tok.ExpiresIn > 0:
		sess.ExpiresAt = c.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).UTC()
	case claims.ExpiresAt != nil:
		sess.ExpiresAt = claims.ExpiresAt.UTC()
	}

	if sess.SubjectID == "" {
		return nil, fmt.Errorf("%w: token grant without subject", errMalformedToken)
	}
	return sess, nil
}

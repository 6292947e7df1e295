package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

const (
	secretSize   = 32
	tokenRawSize = 16 + secretSize
)

// ErrMalformed is returned for tokens that do not decode.
var ErrMalformed = errors.New("malformed refresh token")

// SessionID identifies the provider session a refresh token belongs to.
type SessionID [16]byte

// Secret is the random half of a refresh token. Only its hash is stored.
type Secret [secretSize]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, ErrMalformed
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

func NewSecret() (Secret, error) {
	var secret Secret
	_, err := rand.Read(secret[:])
	return secret, err
}

// Hash returns the storable digest of secret.
func (s Secret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// Matches compares secret against a stored digest in constant time.
func (s Secret) Matches(hash [32]byte) bool {
	h := s.Hash()
	return subtle.ConstantTimeCompare(h[:], hash[:]) == 1
}

// Encode joins a session id and secret into an opaque token.
func Encode(sid SessionID, secret Secret) string {
	var raw [tokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// Decode splits an opaque token into its session id and secret.
func Decode(token string) (SessionID, Secret, error) {
	var (
		sid    SessionID
		secret Secret
	)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenRawSize {
		return sid, secret, ErrMalformed
	}

	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])
	return sid, secret, nil
}

// Issue creates a fresh token for sid and returns it with the secret hash to
// persist.
func Issue(sid SessionID) (string, [32]byte, error) {
	secret, err := NewSecret()
	if err != nil {
		return "", [32]byte{}, err
	}
	return Encode(sid, secret), secret.Hash(), nil
}

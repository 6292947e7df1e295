package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CurrentSchemaVersion is the token blob version written by [Encode].
const CurrentSchemaVersion = 2

const schemaVersionV1 = 1

var (
	// ErrUnsupportedSchema is returned when a persisted blob carries an unknown version.
	ErrUnsupportedSchema = errors.New("unsupported session schema version")
	// ErrCorruptBlob is returned when a persisted blob cannot be decoded.
	ErrCorruptBlob = errors.New("corrupt session blob")
)

type blob struct {
	Version int `json:"v"`
	Session
	// ExpiresAtUnix is the v1 expiry field (seconds).
	ExpiresAtUnix int64 `json:"expires_at_unix,omitempty"`
}

// Encode serializes s into the persisted token blob format.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	if s.SubjectID == "" {
		return nil, errors.New("session subject is empty")
	}
	return json.Marshal(blob{Version: CurrentSchemaVersion, Session: *s})
}

// Decode parses a persisted token blob. Version 1 blobs carry the expiry as
// unix seconds and no assurance level; they are upgraded to aal1.
func Decode(data []byte) (*Session, error) {
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}

	switch b.Version {
	case CurrentSchemaVersion:
	case schemaVersionV1:
		if b.ExpiresAtUnix > 0 && b.ExpiresAt.IsZero() {
			b.ExpiresAt = time.Unix(b.ExpiresAtUnix, 0).UTC()
		}
		if b.AAL == "" {
			b.AAL = AAL1
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, b.Version)
	}

	if b.SubjectID == "" || b.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing subject or refresh token", ErrCorruptBlob)
	}

	s := b.Session
	return &s, nil
}

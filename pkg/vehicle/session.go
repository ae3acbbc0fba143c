package vehicle

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Session is an authenticated context with the vehicle-control service.
type Session struct {
	Token     string    `json:"token"`
	VIN       string    `json:"vin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the session can still be presented.
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && (s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt))
}

// SessionStore persists sessions across process restarts so a restart
// does not force a fresh CAPTCHA-gated login.
type SessionStore interface {
	Load() (Session, bool, error)
	Save(Session) error
}

// FileSessionStore keeps the session in a JSON file.
type FileSessionStore struct {
	Path string
}

func (f *FileSessionStore) Load() (Session, bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("read session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		// A corrupt session file is equivalent to no session.
		return Session{}, false, nil
	}
	return s, s.Token != "", nil
}

func (f *FileSessionStore) Save(s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

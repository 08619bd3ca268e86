package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Session is the authenticated identity: the user id parameterizes the push
// channel URL, the token rides every REST call as a bearer credential. The
// token is opaque to the client.
type Session struct {
	UserID int64  `toml:"user_id"`
	Token  string `toml:"token"`
}

// LoadCredentials reads a session's credentials.toml.
func LoadCredentials(path string) (*Session, error) {
	var s Session
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if s.UserID == 0 || s.Token == "" {
		return nil, fmt.Errorf("credentials at %s missing user_id or token", path)
	}
	return &s, nil
}

// SaveCredentials writes credentials with restrictive permissions, creating
// parent dirs as needed.
func SaveCredentials(path string, s *Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(s)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

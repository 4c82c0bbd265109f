package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Credential is what the auth subsystem hands to the sync layer.
type Credential struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// Empty reports whether the credential cannot be used to connect.
func (c Credential) Empty() bool {
	return c.Token == ""
}

// LoadCredential reads the stored credential. A missing file yields an
// empty credential and no error.
func LoadCredential(path string) (Credential, error) {
	var c Credential
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode credential: %w", err)
	}
	return c, nil
}

// SaveCredential writes c with owner-only permissions.
func SaveCredential(path string, c Credential) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ClearCredential removes the stored credential, if any.
func ClearCredential(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

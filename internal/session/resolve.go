package session

import (
	"os"

	"github.com/matheus3301/teamsync/internal/config"
)

const DefaultSessionName = "main"

// Resolve picks the session to use and validates it. The first non-empty
// source wins: flag, $TEAMSYNC_SESSION, default_session in the config file,
// then DefaultSessionName.
func Resolve(flag string) (string, error) {
	name := flag
	if name == "" {
		name = os.Getenv("TEAMSYNC_SESSION")
	}
	if name == "" {
		if cfg, err := config.Load(ConfigPath()); err == nil {
			name = cfg.DefaultSession
		}
	}
	if name == "" {
		name = DefaultSessionName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

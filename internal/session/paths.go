package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns $TEAMSYNC_HOME, or ~/.teamsync when unset.
func BaseDir() string {
	if dir := os.Getenv("TEAMSYNC_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".teamsync")
}

// ConfigPath returns the config file shared by all sessions.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Paths is the on-disk layout of one session.
type Paths struct {
	Dir        string
	Socket     string // control API unix socket
	Lock       string
	Credential string
	DB         string
	Logs       string
	Log        string
}

// PathsFor returns the layout for the named session under BaseDir.
func PathsFor(name string) Paths {
	dir := filepath.Join(BaseDir(), "sessions", name)
	logs := filepath.Join(dir, "logs")
	return Paths{
		Dir:        dir,
		Socket:     filepath.Join(dir, "daemon.sock"),
		Lock:       filepath.Join(dir, "LOCK"),
		Credential: filepath.Join(dir, "credential.json"),
		DB:         filepath.Join(dir, "teamsync.db"),
		Logs:       logs,
		Log:        filepath.Join(logs, "teamsyncd.log"),
	}
}

// Ensure creates the session and log directories, owner-only.
func (p Paths) Ensure() error {
	for _, d := range []string{p.Dir, p.Logs} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

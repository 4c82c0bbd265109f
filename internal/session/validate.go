package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

const maxNameLen = 64

// ValidateName checks that name is usable as a session directory: 1 to 64
// characters from a-z, 0-9, '-' and '_'.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("%w %q: must be 1-%d characters", ErrInvalidName, name, maxNameLen)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w %q: %q not allowed, use a-z, 0-9, '-' or '_'", ErrInvalidName, name, r)
		}
	}
	return nil
}

// Info describes a session found on disk.
type Info struct {
	Name          string
	Paths         Paths
	HasCredential bool
}

// List returns the sessions that have a directory under BaseDir, sorted by
// name. Directories with invalid names are skipped.
func List() ([]Info, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "sessions"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		paths := PathsFor(e.Name())
		_, statErr := os.Stat(paths.Credential)
		out = append(out, Info{Name: e.Name(), Paths: paths, HasCredential: statErr == nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

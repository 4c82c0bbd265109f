package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/teamsync/internal/config"
)

func TestPathsFor(t *testing.T) {
	t.Setenv("TEAMSYNC_HOME", "")
	home, _ := os.UserHomeDir()
	dir := filepath.Join(home, ".teamsync", "sessions", "main")

	got := PathsFor("main")
	want := Paths{
		Dir:        dir,
		Socket:     filepath.Join(dir, "daemon.sock"),
		Lock:       filepath.Join(dir, "LOCK"),
		Credential: filepath.Join(dir, "credential.json"),
		DB:         filepath.Join(dir, "teamsync.db"),
		Logs:       filepath.Join(dir, "logs"),
		Log:        filepath.Join(dir, "logs", "teamsyncd.log"),
	}
	if got != want {
		t.Errorf("PathsFor(main) = %+v\nwant %+v", got, want)
	}
}

func TestBaseDirOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("TEAMSYNC_HOME", tmpDir)
	if got := BaseDir(); got != tmpDir {
		t.Errorf("BaseDir() = %q, want %q", got, tmpDir)
	}
	if got := PathsFor("x").Dir; got != filepath.Join(tmpDir, "sessions", "x") {
		t.Errorf("Dir = %q", got)
	}
}

func TestEnsure(t *testing.T) {
	t.Setenv("TEAMSYNC_HOME", t.TempDir())

	p := PathsFor("test")
	if err := p.Ensure(); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{p.Dir, p.Logs} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if perm := info.Mode().Perm(); !info.IsDir() || perm != 0700 {
			t.Errorf("%s: dir=%v perm=%o", d, info.IsDir(), perm)
		}
	}
}

func TestResolve(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TEAMSYNC_HOME", home)
	t.Setenv("TEAMSYNC_SESSION", "")

	name, err := Resolve("")
	if err != nil || name != DefaultSessionName {
		t.Fatalf("Resolve() = %q, %v", name, err)
	}

	cfg := config.Default()
	cfg.DefaultSession = "work"
	if err := config.Save(ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	if name, _ := Resolve(""); name != "work" {
		t.Errorf("config default: got %q", name)
	}

	t.Setenv("TEAMSYNC_SESSION", "env")
	if name, _ := Resolve(""); name != "env" {
		t.Errorf("env: got %q", name)
	}
	if name, _ := Resolve("flag"); name != "flag" {
		t.Errorf("flag: got %q", name)
	}

	if _, err := Resolve("No Good"); err == nil {
		t.Error("invalid flag name accepted")
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")

	c, err := LoadCredential(path)
	if err != nil {
		t.Fatalf("LoadCredential(missing) error = %v", err)
	}
	if !c.Empty() {
		t.Errorf("missing credential should be empty, got %+v", c)
	}

	if err := SaveCredential(path, Credential{UserID: "u1", Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	c, err = LoadCredential(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.UserID != "u1" || c.Token != "tok" {
		t.Errorf("credential = %+v, want {u1 tok}", c)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}

	if err := ClearCredential(path); err != nil {
		t.Fatal(err)
	}
	if err := ClearCredential(path); err != nil {
		t.Errorf("second ClearCredential() error = %v", err)
	}
}

package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got, want := BaseDir(), filepath.Join(home, ".crmlink"); got != want {
		t.Errorf("BaseDir() = %q, want %q", got, want)
	}
	if got, want := SocketPath("work"), filepath.Join(home, ".crmlink", "sessions", "work", "daemon.sock"); got != want {
		t.Errorf("SocketPath() = %q, want %q", got, want)
	}
	if got, want := LogPath("work"), filepath.Join(home, ".crmlink", "sessions", "work", "logs", "crmlinkd.log"); got != want {
		t.Errorf("LogPath() = %q, want %q", got, want)
	}
	if got, want := ConfigPath(), filepath.Join(home, ".crmlink", "config.toml"); got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := WriteToken("main", "secret-token"); err != nil {
		t.Fatalf("WriteToken() error = %v", err)
	}

	info, err := os.Stat(TokenPath("main"))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token permissions = %o, want 0600", perm)
	}

	token, err := ReadToken("main")
	if err != nil {
		t.Fatalf("ReadToken() error = %v", err)
	}
	if token != "secret-token" {
		t.Errorf("token = %q, want secret-token (trimmed)", token)
	}
}

func TestReadTokenMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := ReadToken("main"); err == nil {
		t.Error("ReadToken() expected error for missing token")
	}
}

func TestClearToken(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := WriteToken("main", "tok"); err != nil {
		t.Fatal(err)
	}
	if err := ClearToken("main"); err != nil {
		t.Fatalf("ClearToken() error = %v", err)
	}
	// Clearing an already-cleared token is not an error.
	if err := ClearToken("main"); err != nil {
		t.Errorf("second ClearToken() error = %v", err)
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// No config, no flag: built-in default.
	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() = %q, want %q", got, DefaultSessionName)
	}

	// Flag always wins.
	if got := Resolve("override"); got != "override" {
		t.Errorf("Resolve() = %q, want override", got)
	}
}

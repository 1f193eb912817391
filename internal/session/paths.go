package session

import (
	"os"
	"path/filepath"
	"strings"
)

// BaseDir returns ~/.crmlink.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".crmlink")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the UDS control socket path for a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// TokenPath returns the auth token file path for a session.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "crmlinkd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ReadToken reads the session auth token file. The token is used by the
// connection manager to build the WebSocket URL and by the REST client
// as a bearer credential. Surrounding whitespace is trimmed.
func ReadToken(name string) (string, error) {
	data, err := os.ReadFile(TokenPath(name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteToken stores the session auth token with owner-only permissions.
func WriteToken(name, token string) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(name), []byte(token+"\n"), 0600)
}

// ClearToken removes the stored token, if any.
func ClearToken(name string) error {
	err := os.Remove(TokenPath(name))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

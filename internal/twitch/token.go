package twitch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrEmptyToken = errors.New("twitch: empty token")

// NormalizeToken trims the token and ensures it is prefixed with "oauth:",
// the form chat login and the token file use.
func NormalizeToken(s string) string {
	trimmed := BareToken(s)
	if trimmed == "" {
		return ""
	}
	return "oauth:" + trimmed
}

// BareToken strips whitespace and any "oauth:" prefix. Helix and EventSub
// want the bare value.
func BareToken(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "oauth:"))
}

// TokenFiles names the files an external authorizer keeps the user tokens
// in. Either path may be empty.
type TokenFiles struct {
	AccessPath  string
	RefreshPath string
}

// Paths lists the configured paths.
func (t TokenFiles) Paths() []string {
	var out []string
	for _, p := range []string{t.AccessPath, t.RefreshPath} {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// ReadAccess returns the bare access token.
func (t TokenFiles) ReadAccess() (string, error) {
	return readToken(t.AccessPath, BareToken)
}

func (t TokenFiles) ReadRefresh() (string, error) {
	return readToken(t.RefreshPath, strings.TrimSpace)
}

func readToken(path string, clean func(string) string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("twitch: token file not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("twitch: read token file: %w", err)
	}
	token := clean(string(data))
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Chmod(path, mode)
}

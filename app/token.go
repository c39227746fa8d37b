package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/costpilot/costpilot/config"
)

// EnsureToken returns the API bearer token: the configured one if set,
// otherwise the one stored in the token file, generating and persisting a
// fresh token on first run.
func EnsureToken(cfg *config.Config) (string, error) {
	if cfg.Auth.Token != "" {
		return cfg.Auth.Token, nil
	}

	path := cfg.Auth.TokenFile
	if path == "" {
		path = filepath.Join(cfg.Data.Dir, ".api-token")
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		if token := strings.TrimSpace(string(raw)); token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read token file: %w", err)
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write token file: %w", err)
	}
	return token, nil
}

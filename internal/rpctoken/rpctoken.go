// Package rpctoken implements the server-managed bearer token lifecycle
// (spec.md §4.2), grounded on original_source/nexus3/rpc/auth.py:
// generation, POSIX-permission-gated storage, discovery, and constant-time
// validation.
package rpctoken

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/nexuserr"
)

// Prefix is the fixed ASCII token prefix.
const Prefix = "nxk_"

// defaultPort is the conventional default port: tokens for it live in
// rpc.token instead of rpc-<port>.token.
const defaultPort = 8765

// EnvOverride is the client-side discovery environment variable (spec §6).
const EnvOverride = "NEXUS3_API_KEY"

const secureMode = 0o600
const secureDirMode = 0o700

// Generate creates a fresh "nxk_"-prefixed token: 32 bytes of
// cryptographically random data, URL-safe base64 without padding.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Validate performs a constant-time comparison, returning false (not
// panicking) on empty input and on length mismatch.
func Validate(candidate, expected string) bool {
	if candidate == "" || expected == "" {
		return false
	}
	// A length mismatch returns false before the constant-time compare
	// (no padding); token lengths are fixed-format, so the length alone
	// reveals nothing about the expected token's content.
	if len(candidate) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}

// Manager owns the on-disk token file for one bound port under a config
// directory.
type Manager struct {
	configDir string
	port      int
	log       zerolog.Logger
}

// NewManager builds a Manager for the given config directory and port.
func NewManager(configDir string, port int, log zerolog.Logger) *Manager {
	return &Manager{configDir: configDir, port: port, log: log.With().Str("component", "rpctoken").Logger()}
}

// TokenPath returns the path this manager reads/writes.
func (m *Manager) TokenPath() string {
	if m.port == defaultPort {
		return filepath.Join(m.configDir, "rpc.token")
	}
	return filepath.Join(m.configDir, fmt.Sprintf("rpc-%d.token", m.port))
}

// GenerateFresh deletes any existing token file for this port and writes a
// newly generated one with owner-only permissions, returning the token.
func (m *Manager) GenerateFresh() (string, error) {
	_ = m.Delete()
	token, err := Generate()
	if err != nil {
		return "", err
	}
	if err := m.save(token); err != nil {
		return "", err
	}
	return token, nil
}

func (m *Manager) save(token string) error {
	if err := os.MkdirAll(m.configDir, secureDirMode); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := m.TokenPath()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, secureMode)
	if err != nil {
		return fmt.Errorf("opening token file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(token); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Load reads the token file, enforcing permission checks on POSIX
// platforms. In strict mode, an insecure mode raises
// InsecureTokenFileError; in non-strict mode it logs a warning and still
// returns the token.
func (m *Manager) Load(strict bool) (string, error) {
	path := m.TokenPath()
	if err := checkTokenFilePermissions(path, strict, m.log); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Delete best-effort removes the token file.
func (m *Manager) Delete() error {
	err := os.Remove(m.TokenPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// checkTokenFilePermissions enforces that the file has no group/other bits
// set. Skipped entirely on non-POSIX platforms.
func checkTokenFilePermissions(path string, strict bool, log zerolog.Logger) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat token file: %w", err)
	}
	mode := uint32(info.Mode().Perm())
	if mode&0o077 != 0 {
		if strict {
			return &nexuserr.InsecureTokenFileError{Path: path, Mode: mode}
		}
		log.Warn().Str("path", path).Str("mode", fmt.Sprintf("%04o", mode)).
			Msg("token file has insecure permissions; continuing in non-strict mode")
	}
	return nil
}

// Discover implements the client-side discovery precedence (spec §4.2,
// §6, SPEC_FULL.md §C.1): environment variable override, then the
// port-specific file, then the default-port file.
func Discover(configDir string, port int, strict bool, log zerolog.Logger) (string, error) {
	if v := os.Getenv(EnvOverride); v != "" {
		return v, nil
	}
	if port != defaultPort {
		if tok, err := tryLoad(configDir, port, strict, log); err == nil {
			return tok, nil
		}
	}
	return tryLoad(configDir, defaultPort, strict, log)
}

func tryLoad(configDir string, port int, strict bool, log zerolog.Logger) (string, error) {
	m := NewManager(configDir, port, log)
	return m.Load(strict)
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/fieldwatch/wkauth/internal/config"
	"github.com/fieldwatch/wkauth/internal/model"
	"github.com/fieldwatch/wkauth/internal/nonce"
	"github.com/fieldwatch/wkauth/internal/server"
)

// loadSettings decodes and validates the effective settings.
func loadSettings() (*config.Settings, error) {
	return config.LoadSettings(v)
}

// resolveDataDir returns the SQLite data directory from --data-dir,
// store.data_dir, or ~/.wkauth as fallback.
func resolveDataDir(s *config.Settings) string {
	if s.Store.DataDir != "" {
		return s.Store.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wkauth")
}

// openStore opens the store selected by the settings.
func openStore(s *config.Settings) (*config.Store, error) {
	if s.Store.Driver == config.DialectSQLite && s.Store.DSN == "" {
		return config.NewStore(resolveDataDir(s))
	}
	return config.Open(s.Store.Driver, s.Store.DSN)
}

// session bundles what the management commands need.
type session struct {
	settings *config.Settings
	store    *config.Store
	deps     *server.Deps
}

func (s *session) Close() {
	if c, ok := s.deps.Nonces.(io.Closer); ok {
		c.Close()
	}
	s.store.Close()
}

// openSession loads settings and opens the store and services. Management
// commands never verify signatures, so nonces stay in memory.
func openSession() (*session, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	store, err := openStore(settings)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	deps, err := server.NewDeps(settings, store, nonce.NewMemory(16, settings.Nonce.MaxTTL))
	if err != nil {
		store.Close()
		return nil, err
	}
	return &session{settings: settings, store: store, deps: deps}, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(s config.LogSettings, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(s.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseExpiry accepts an RFC 3339 timestamp or a duration from now. An empty
// string means no expiry.
func parseExpiry(s string, now time.Time) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry %q: use RFC 3339 or a duration like 720h", s)
	}
	t := now.Add(d)
	return &t, nil
}

// ownerByRef finds an owner by id or email.
func ownerByRef(ctx context.Context, store *config.Store, ref string) (*model.Owner, error) {
	if strings.Contains(ref, "@") {
		return store.GetOwnerByEmail(ctx, ref)
	}
	return store.GetOwner(ctx, ref)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// readSecret prompts for a secret on an interactive terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s is required (stdin is not a terminal)", strings.ToLower(prompt))
	}
	fmt.Fprint(os.Stderr, prompt+": ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(prompt), err)
	}
	return strings.TrimSpace(string(b)), nil
}

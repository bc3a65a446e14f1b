// Package store is the libsql backend: sliding windows, rotation cursors,
// the usage ledger and the audit trail in one SQLite-compatible database,
// local or remote (Turso).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/dripgate/dripgate/internal/config"
)

const driverName = "libsql"

// localPragmas apply to file databases. WAL lets stats readers run beside
// the single writer; busy_timeout absorbs CLI commands touching the same file.
var localPragmas = []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"}

type Store struct {
	DB *sql.DB

	// Clock stamps ledger epochs; nil uses time.Now.
	Clock func() time.Time
}

// target is a resolved connection string plus how to tune it.
type target struct {
	dsn string
	// single forces one connection: required for :memory: and used for local
	// files so read-modify-write sequences never interleave.
	single bool
	local  bool
}

// Open connects and tunes the database. It does not migrate.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if driver := strings.TrimSpace(cfg.Driver); driver != "" && driver != config.DriverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	tgt, err := resolveTarget(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, tgt.dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if tgt.single {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}
	if tgt.local {
		for _, pragma := range localPragmas {
			rows, err := db.QueryContext(ctx, pragma)
			if err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("configure libsql store (%s): %w", pragma, err)
			}
			_ = rows.Close()
		}
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	return s.DB.PingContext(ctx)
}

// resolveTarget picks the URL when set, else the path. Bare paths become
// file: DSNs and their directory is created.
func resolveTarget(cfg config.StoreConfig) (target, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		dsn, err := withAuthToken(raw, cfg.AuthToken)
		return target{dsn: dsn}, err
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return target{}, errors.New("store path or url is required")
	case path == ":memory:":
		return target{dsn: path, single: true}, nil
	case strings.HasPrefix(path, "libsql:"):
		return target{dsn: path}, nil
	case strings.HasPrefix(path, "file:"):
		local, err := filePath(path)
		if err != nil {
			return target{}, err
		}
		if err := ensureDir(local); err != nil {
			return target{}, err
		}
		return target{dsn: path, single: true, local: true}, nil
	default:
		if err := ensureDir(path); err != nil {
			return target{}, err
		}
		return target{dsn: "file:" + filepath.Clean(path), single: true, local: true}, nil
	}
}

// withAuthToken adds authToken to a remote URL unless it already has one.
func withAuthToken(dsn, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func filePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}
	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

// ensureDir creates the database directory, owner-only since the file holds
// the audit trail.
func ensureDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

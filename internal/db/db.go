package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	stateDir      = ".diario"
	defaultDBName = "diario.db"
)

type Config struct {
	Workspace string
	// InMemory opens a private in-memory database instead of the workspace file.
	InMemory bool
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, defaultDBName)
}

// EnsureWorkspace creates the state directory of workspace if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, stateDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database of the development backend with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.InMemory {
		conn, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
		if err != nil {
			return nil, err
		}
		// every pooled connection would otherwise see its own empty database
		conn.SetMaxOpenConns(1)
		return conn, nil
	}
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

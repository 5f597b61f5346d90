package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/catflash/catflash/internal/config"
)

const (
	busyTimeout = 5 * time.Second
	openTimeout = 5 * time.Second
)

// Options selects the database behind a Store.
type Options struct {
	// InstanceName defaults to config.DefaultInstance.
	InstanceName string
	// DBPath overrides the instance's state.db location.
	DBPath   string
	ReadOnly bool
}

// Store keeps run history, library resolutions and remembered settings for
// one catflash instance.
type Store struct {
	db           *sql.DB
	instanceName string
	dbPath       string
	readOnly     bool
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// Open opens (and unless read-only, migrates) the state database.
func Open(opts Options) (*Store, error) {
	if opts.InstanceName == "" {
		opts.InstanceName = config.DefaultInstance
	}
	path, err := resolveDBPath(opts)
	if err != nil {
		return nil, err
	}

	dsn := path
	if opts.ReadOnly {
		dsn = "file:" + path + "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := prepare(ctx, db, opts); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, instanceName: opts.InstanceName, dbPath: path, readOnly: opts.ReadOnly}, nil
}

func resolveDBPath(opts Options) (string, error) {
	if opts.DBPath == "" {
		paths, err := config.EnsureInstanceDirs(opts.InstanceName)
		if err != nil {
			return "", fmt.Errorf("config: ensure instance directories: %w", err)
		}
		return paths.ConfigDB, nil
	}
	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0o755); err != nil {
			return "", fmt.Errorf("config: create store directory: %w", err)
		}
	}
	return opts.DBPath, nil
}

func prepare(ctx context.Context, db *sql.DB, opts Options) error {
	if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
		return err
	}
	if opts.ReadOnly {
		return nil
	}
	if err := applySchema(ctx, db); err != nil {
		return err
	}
	return registerInstance(ctx, db, opts.InstanceName)
}

// Close releases the database handle. A nil Store is ignored.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) InstanceName() string { return s.instanceName }

// Path is the database file backing the store.
func (s *Store) Path() string { return s.dbPath }

func (s *Store) writable(op string) error {
	if s.readOnly {
		return fmt.Errorf("config: %s: store opened read-only", op)
	}
	return nil
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("config: rollback: %w", rbErr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// storage/index.go
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"

	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// IndexConfig selects the index backend.
type IndexConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Driver  string `yaml:"driver" json:"driver"` // sqlite or postgres
	DSN     string `yaml:"dsn" json:"-"`

	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DefaultIndexDSN is the sqlite file used when no DSN is configured.
func DefaultIndexDSN(captureDir string) string {
	return filepath.Join(captureDir, "index.db")
}

// Index records persisted artifacts in a SQL table. It is a Sink.
type Index struct {
	db     *sqlx.DB
	driver string
	logger recorderlog.Logger
}

// OpenIndex connects, pings and creates the schema if needed.
func OpenIndex(ctx context.Context, cfg IndexConfig, logger recorderlog.Logger) (*Index, error) {
	driver := strings.ToLower(cfg.Driver)
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
	case "postgres", "postgresql":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported index driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("index: empty DSN for driver %s", driver)
	}
	if logger == nil {
		logger = recorderlog.L()
	}

	if driver == "sqlite" {
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// sqlite allows one writer; the worker is the only writer anyway
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	idx := &Index{
		db:     db,
		driver: driver,
		logger: logger.Named("capture-index"),
	}
	if err := idx.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	idx.logger.Info("Capture index opened", recorderlog.String("driver", driver))
	return idx, nil
}

// ensureSQLiteDir creates the parent directory of a file-backed sqlite
// database. URIs and in-memory databases are left alone.
func ensureSQLiteDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailure, &StorageError{Op: "mkdir", Key: dir, Err: err})
	}
	return nil
}

// initSchema creates the table if it doesn't exist. The DDL is the
// common subset of sqlite and PostgreSQL.
func (x *Index) initSchema(ctx context.Context) error {
	stmts := []string{`
	CREATE TABLE IF NOT EXISTS captures (
		session_id      VARCHAR(64)  NOT NULL,
		sequence_id     BIGINT       NOT NULL,
		timestamp_nanos BIGINT       NOT NULL,
		name            VARCHAR(255) NOT NULL,
		image_path      TEXT         NOT NULL,
		metadata_path   TEXT         NOT NULL,
		width           INTEGER      NOT NULL,
		height          INTEGER      NOT NULL,
		format          VARCHAR(16)  NOT NULL,
		image_bytes     BIGINT       NOT NULL,
		speed           DOUBLE PRECISION NOT NULL DEFAULT 0,
		persisted_at    BIGINT       NOT NULL,
		PRIMARY KEY (session_id, sequence_id)
	)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_persisted_at ON captures(persisted_at)`,
	}
	for _, s := range stmts {
		if _, err := x.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Persisted inserts a row for a. Re-recording the same (session, sequence)
// is a no-op.
func (x *Index) Persisted(ctx context.Context, a Artifact) error {
	query := `
		INSERT INTO captures (
			session_id, sequence_id, timestamp_nanos, name, image_path, metadata_path,
			width, height, format, image_bytes, speed, persisted_at
		) VALUES (
			:session_id, :sequence_id, :timestamp_nanos, :name, :image_path, :metadata_path,
			:width, :height, :format, :image_bytes, :speed, :persisted_at
		)
		ON CONFLICT (session_id, sequence_id) DO NOTHING
	`
	if _, err := x.db.NamedExecContext(ctx, query, RecordFromArtifact(a)); err != nil {
		return fmt.Errorf("failed to index capture %s/%d: %w", a.SessionID, a.SequenceID, err)
	}
	return nil
}

// List returns up to limit rows of a session in sequence order. An empty
// session lists across all sessions; limit <= 0 means no limit.
func (x *Index) List(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if sessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, sessionID)
	}

	query := "SELECT * FROM captures"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY session_id, sequence_id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var out []Record
	if err := x.db.SelectContext(ctx, &out, x.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}
	return out, nil
}

// Count returns the number of rows for a session, or all rows for "".
func (x *Index) Count(ctx context.Context, sessionID string) (int64, error) {
	var (
		n   int64
		err error
	)
	if sessionID == "" {
		err = x.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM captures")
	} else {
		err = x.db.GetContext(ctx, &n, x.db.Rebind("SELECT COUNT(*) FROM captures WHERE session_id = ?"), sessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count captures: %w", err)
	}
	return n, nil
}

// HealthCheck pings the database.
func (x *Index) HealthCheck(ctx context.Context) error {
	return x.db.PingContext(ctx)
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

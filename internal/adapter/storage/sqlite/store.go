package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/port"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const dbName = "vidpipe.db"

type Store struct {
	db *sql.DB
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA cache_size = -8000", // 8MB
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	db, err := sql.Open("sqlite", filepath.Join(dataDir, dbName))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; every Save replaces the whole snapshot in one transaction.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const insertItem = `INSERT INTO items (
	id, stage, position, locator, quality, resolved_url, title, size_estimate,
	last_error, resolution_attempts, transfer_attempts, last_attempt_at,
	output_path, file_size, created_at, completed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) Save(state port.State) error {
	ctx := context.Background()
	savedAt := state.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertItem)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, stage := range domain.Stages {
		for pos, it := range state.Stages[stage] {
			_, err := stmt.ExecContext(ctx,
				it.ID, string(stage), pos, it.Locator, string(it.Quality), it.ResolvedURL, it.Title, it.SizeEstimate,
				it.LastError, it.ResolutionAttempts, it.TransferAttempts, toUnix(it.LastAttemptAt),
				it.OutputPath, it.FileSize, toUnix(it.CreatedAt), toUnix(it.CompletedAt),
			)
			if err != nil {
				return fmt.Errorf("insert item %s: %w", it.ID, err)
			}
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO snapshot (id, saved_at) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at",
		toUnix(savedAt))
	if err != nil {
		return fmt.Errorf("write snapshot time: %w", err)
	}

	return tx.Commit()
}

func (s *Store) Load() (port.State, error) {
	ctx := context.Background()
	state := port.State{Stages: make(map[domain.Status][]domain.Item, len(domain.Stages))}

	var savedAt int64
	err := s.db.QueryRowContext(ctx, "SELECT saved_at FROM snapshot WHERE id = 1").Scan(&savedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return state, nil
	case err != nil:
		return state, fmt.Errorf("read snapshot time: %w", err)
	}
	state.SavedAt = fromUnix(savedAt)

	rows, err := s.db.QueryContext(ctx, `SELECT
		id, stage, locator, quality, resolved_url, title, size_estimate,
		last_error, resolution_attempts, transfer_attempts, last_attempt_at,
		output_path, file_size, created_at, completed_at
	FROM items ORDER BY stage, position`)
	if err != nil {
		return state, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			it                                  domain.Item
			stage, quality                      string
			lastAttempt, createdAt, completedAt int64
		)
		if err := rows.Scan(
			&it.ID, &stage, &it.Locator, &quality, &it.ResolvedURL, &it.Title, &it.SizeEstimate,
			&it.LastError, &it.ResolutionAttempts, &it.TransferAttempts, &lastAttempt,
			&it.OutputPath, &it.FileSize, &createdAt, &completedAt,
		); err != nil {
			return state, fmt.Errorf("scan item: %w", err)
		}
		st := domain.Status(stage)
		if !st.Valid() {
			return state, fmt.Errorf("item %s: unknown stage %q", it.ID, stage)
		}
		it.Status = st
		it.Quality = domain.Quality(quality)
		it.LastAttemptAt = fromUnix(lastAttempt)
		it.CreatedAt = fromUnix(createdAt)
		it.CompletedAt = fromUnix(completedAt)
		state.Stages[st] = append(state.Stages[st], it)
	}
	return state, rows.Err()
}

// Timestamps are stored as Unix nanoseconds, zero meaning unset.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

var _ port.StateStore = (*Store)(nil)

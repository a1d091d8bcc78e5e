// Package recovery re-fetches the files a bulk download left in an error
// state, using the status database of that download.
package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/INLOpen/cmip6kit/cmip6"

	_ "modernc.org/sqlite"
)

// File statuses in the status database.
const (
	StatusError = "Error"
	StatusDone  = "Done"
)

// Candidate is a file waiting to be recovered.
type Candidate struct {
	MasterID string
	// LocalPath is the dataset directory relative to the data directory,
	// starting with CMIP6/.
	LocalPath string
}

// Store wraps the status database. Each goroutine should open its own.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `CREATE TABLE IF NOT EXISTS file (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	master_id TEXT NOT NULL UNIQUE,
	local_path TEXT NOT NULL,
	status TEXT NOT NULL
)`

// OpenStore opens the database at path, which must exist.
func OpenStore(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("status database: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

// CreateStore creates a database with an empty file table.
func CreateStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating file table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Add inserts or replaces a file row.
func (s *Store) Add(ctx context.Context, c Candidate, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file (master_id, local_path, status) VALUES (?, ?, ?)
		 ON CONFLICT(master_id) DO UPDATE SET local_path = excluded.local_path, status = excluded.status`,
		c.MasterID, c.LocalPath, status)
	return err
}

// Pending returns the files in the error state, in row order. With a
// non-empty variable only files of that variable are returned.
func (s *Store) Pending(ctx context.Context, variable string) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT master_id, local_path FROM file WHERE status = ? ORDER BY rowid`, StatusError)
	if err != nil {
		return nil, fmt.Errorf("querying pending files: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.MasterID, &c.LocalPath); err != nil {
			return nil, err
		}
		if variable != "" {
			id, _, err := cmip6.ParseMasterID(c.MasterID)
			if err != nil || id.Variable != variable {
				continue
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkDone sets the status of a file to Done.
func (s *Store) MarkDone(ctx context.Context, masterID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE file SET status = ? WHERE master_id = ?`, StatusDone, masterID)
	if err != nil {
		return fmt.Errorf("marking %s done: %w", masterID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("marking %s done: %w", masterID, sql.ErrNoRows)
	}
	return nil
}

// Status returns the status of one file.
func (s *Store) Status(ctx context.Context, masterID string) (string, error) {
	var st string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM file WHERE master_id = ?`, masterID).Scan(&st)
	return st, err
}

// BackupName is <db>.backup<YYYYMMDD>.
func BackupName(dbPath string, now time.Time) string {
	return dbPath + ".backup" + now.Format("20060102")
}

// Backup writes a consistent copy of the database to dest, which must not
// exist.
func (s *Store) Backup(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup %s already exists", dest)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("backing up %s to %s: %w", s.path, dest, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Package journal keeps a SQLite log of detected improvements per run.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nholik/slot-sentinel/internal/notify"
	"github.com/nholik/slot-sentinel/internal/status"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// MemoryPath opens an in-memory journal.
	MemoryPath   = ":memory:"
	dayLayout    = "2006-01-02"
	defaultLimit = 20
)

// Run describes one crawl cycle.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Facilities int
	Failures   int
}

// Entry is one journaled improvement.
type Entry struct {
	RunID            string          `json:"run_id"`
	RunAt            time.Time       `json:"run_at"`
	Facility         string          `json:"facility"`
	Day              string          `json:"day"`
	Previous         status.Status   `json:"previous"`
	Current          status.Status   `json:"current"`
	PreviousCategory status.Category `json:"previous_category,omitempty"`
	Inspected        bool            `json:"inspected"`
	Slots            []string        `json:"slots"`
}

// Journal wraps the SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path and applies pending migrations.
func Open(path string) (*Journal, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate() error {
	if _, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, k int) bool {
		return entries[i].Name() < entries[k].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := j.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := j.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parse migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns applied migration versions in ascending order.
func (j *Journal) AppliedMigrations(ctx context.Context) ([]int, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Record stores run and every improved day of reports in one transaction.
func (j *Journal) Record(ctx context.Context, run Run, reports []notify.FacilityReport) error {
	if j == nil {
		return nil
	}

	improvements := 0
	for _, report := range reports {
		improvements += len(report.Days)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, facilities, failures, improvements)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(time.RFC3339), run.FinishedAt.UTC().Format(time.RFC3339),
		run.Facilities, run.Failures, improvements,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for _, report := range reports {
		for _, day := range report.Days {
			labels := make([]string, 0, len(day.Slots))
			for _, slot := range day.Slots {
				labels = append(labels, slot.Label)
			}
			slots, err := json.Marshal(labels)
			if err != nil {
				return fmt.Errorf("encode slots: %w", err)
			}
			imp := day.Improvement
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO improvements (run_id, facility, day, previous, current, previous_category, inspected, slots)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID, report.Facility, imp.Date(time.UTC).Format(dayLayout),
				imp.Previous.String(), imp.Current.String(), string(imp.PreviousCategory),
				day.Inspected, string(slots),
			); err != nil {
				return fmt.Errorf("insert improvement %s %s: %w", report.Facility, imp.Date(time.UTC).Format(dayLayout), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// Recent returns the newest improvements, newest first. An empty facility
// matches every facility; a non-positive limit falls back to 20.
func (j *Journal) Recent(ctx context.Context, facility string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	query := `
		SELECT i.run_id, r.started_at, i.facility, i.day, i.previous, i.current, i.previous_category, i.inspected, i.slots
		FROM improvements i JOIN runs r ON r.id = i.run_id`
	args := []any{}
	if facility != "" {
		query += " WHERE i.facility = ?"
		args = append(args, facility)
	}
	query += " ORDER BY i.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query improvements: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry                    Entry
			runAt, previous, current string
			category, slots          string
		)
		if err := rows.Scan(&entry.RunID, &runAt, &entry.Facility, &entry.Day, &previous, &current, &category, &entry.Inspected, &slots); err != nil {
			return nil, err
		}
		if entry.RunAt, err = time.Parse(time.RFC3339, runAt); err != nil {
			return nil, fmt.Errorf("parse run time %q: %w", runAt, err)
		}
		if entry.Previous, err = status.Parse(previous); err != nil {
			return nil, err
		}
		if entry.Current, err = status.Parse(current); err != nil {
			return nil, err
		}
		entry.PreviousCategory = status.Category(category)
		if err := json.Unmarshal([]byte(slots), &entry.Slots); err != nil {
			return nil, fmt.Errorf("decode slots: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

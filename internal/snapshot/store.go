// Package snapshot lays out per-month captures on disk with bounded history.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nholik/slot-sentinel/internal/state"
	"github.com/nholik/slot-sentinel/internal/transition"
	"github.com/rs/zerolog"
)

const (
	latestHTML      = "calendar.html"
	latestImage     = "calendar.png"
	debugDir        = "_debug"
	timestampLayout = "20060102_150405"
)

var historyPattern = regexp.MustCompile(`^calendar_\d{8}_\d{6}\.(html|png)$`)

var pathReplacer = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_", `"`, "_", "<", "_", ">", "_", "|", "_",
)

// Capture is the rendered evidence of one view.
type Capture struct {
	HTML  string
	Image []byte
}

// PersistError reports a failed write. The caller keeps whatever it already extracted.
type PersistError struct {
	Facility string
	Path     string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s at %s: %v", e.Facility, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Options tunes a Store.
type Options struct {
	// HistoryLimit bounds timestamped files per month folder; zero or less keeps all.
	HistoryLimit int
	Location     *time.Location
	Now          func() time.Time
}

// Store writes captures and status records under a root directory.
type Store struct {
	root   string
	opts   Options
	logger zerolog.Logger
}

// New returns a Store rooted at root.
func New(root string, opts Options, logger zerolog.Logger) *Store {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{root: root, opts: opts, logger: logger}
}

// Result describes what a Persist call wrote.
type Result struct {
	Dir     string
	Changed bool
	History []string
	Rotated []string
}

// Sanitize makes s safe to use as one path component.
func Sanitize(s string) string {
	cleaned := strings.TrimSpace(pathReplacer.Replace(s))
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "_"
	}
	return cleaned
}

// MonthDir returns OUTPUT_DIR/<alias>/<year>年<month>月.
func (s *Store) MonthDir(alias string, year int, month time.Month) string {
	return filepath.Join(s.root, Sanitize(alias), fmt.Sprintf("%d年%d月", year, int(month)))
}

func (s *Store) stateStore(alias string, year int, month time.Month) *state.FileStore {
	return state.NewFileStore(filepath.Join(s.MonthDir(alias, year, month), state.FileName), s.logger)
}

// Load returns the persisted record of a facility month; found is false on first capture.
func (s *Store) Load(ctx context.Context, alias string, year int, month time.Month) (state.MonthRecord, bool, error) {
	return s.stateStore(alias, year, month).Load(ctx)
}

// Persist overwrites the latest capture, adds a timestamped copy when the status map
// differs from the stored one, trims history and finally replaces the status record.
func (s *Store) Persist(ctx context.Context, alias string, record state.MonthRecord, capture Capture) (Result, error) {
	dir := s.MonthDir(alias, record.Year, record.Month)
	result := Result{Dir: dir}
	fail := func(path string, err error) (Result, error) {
		return result, &PersistError{Facility: alias, Path: path, Err: err}
	}

	store := s.stateStore(alias, record.Year, record.Month)
	previous, found, err := store.Load(ctx)
	if err != nil {
		return fail(store.Path(), err)
	}
	result.Changed = !found || transition.Changed(previous.Statuses(), record.Statuses())

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(dir, err)
	}
	if err := writeCapture(dir, latestHTML, latestImage, capture); err != nil {
		return fail(dir, err)
	}

	if result.Changed {
		stamp := s.opts.Now().In(s.opts.Location).Format(timestampLayout)
		htmlName := "calendar_" + stamp + ".html"
		imageName := "calendar_" + stamp + ".png"
		if err := writeCapture(dir, htmlName, imageName, capture); err != nil {
			return fail(dir, err)
		}
		if capture.HTML != "" {
			result.History = append(result.History, htmlName)
		}
		if len(capture.Image) > 0 {
			result.History = append(result.History, imageName)
		}
	}

	rotated, err := s.rotate(dir)
	result.Rotated = rotated
	if err != nil {
		return fail(dir, err)
	}

	if err := store.Save(ctx, record); err != nil {
		return fail(store.Path(), err)
	}

	s.logger.Debug().
		Str("facility", alias).
		Str("dir", dir).
		Bool("changed", result.Changed).
		Int("rotated", len(rotated)).
		Msg("snapshot persisted")
	return result, nil
}

// SaveDebug writes a debug capture to OUTPUT_DIR/_debug and returns the HTML path.
func (s *Store) SaveDebug(alias, label string, capture Capture) (string, error) {
	dir := filepath.Join(s.root, debugDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &PersistError{Facility: alias, Path: dir, Err: err}
	}
	stamp := s.opts.Now().In(s.opts.Location).Format(timestampLayout)
	base := fmt.Sprintf("%s_%s_%s", stamp, Sanitize(alias), Sanitize(label))
	if err := writeCapture(dir, base+".html", base+".png", capture); err != nil {
		return "", &PersistError{Facility: alias, Path: dir, Err: err}
	}
	return filepath.Join(dir, base+".html"), nil
}

// History lists the timestamped files in dir, oldest first.
func History(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !historyPattern.MatchString(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	// The embedded timestamp sorts lexically.
	sort.Strings(names)
	return names, nil
}

func (s *Store) rotate(dir string) ([]string, error) {
	if s.opts.HistoryLimit <= 0 {
		return nil, nil
	}
	names, err := History(dir)
	if err != nil {
		return nil, err
	}
	excess := len(names) - s.opts.HistoryLimit
	if excess <= 0 {
		return nil, nil
	}
	removed := make([]string, 0, excess)
	for _, name := range names[:excess] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// writeCapture writes the non-empty parts of capture.
func writeCapture(dir, htmlName, imageName string, capture Capture) error {
	if capture.HTML != "" {
		if err := os.WriteFile(filepath.Join(dir, htmlName), []byte(capture.HTML), 0o644); err != nil {
			return err
		}
	}
	if len(capture.Image) == 0 {
		return nil
	}
	return os.WriteFile(filepath.Join(dir, imageName), capture.Image, 0o644)
}

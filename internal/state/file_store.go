package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileName is the per-month status record written by FileStore.
const FileName = "status_counts.json"

// FileStore persists a month record as JSON on disk.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a JSON-backed store for the record at path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record from disk. Missing or corrupt files report found=false;
// a corrupt file is logged and treated as a first capture.
func (s *FileStore) Load(ctx context.Context) (MonthRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return MonthRecord{}, false, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().Str("path", s.path).Msg("no previous status record")
			return emptyRecord(), false, nil
		}
		return MonthRecord{}, false, err
	}

	var record MonthRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn().Str("path", s.path).Err(err).Msg("status record corrupt, treating as first capture")
		return emptyRecord(), false, nil
	}
	if record.Days == nil {
		record.Days = map[int]DayState{}
	}
	return record, true, nil
}

// Save writes the record atomically: temp file in the same directory, fsync, rename.
func (s *FileStore) Save(ctx context.Context, record MonthRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.Days == nil {
		record.Days = map[int]DayState{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	encoder := json.NewEncoder(tempFile)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(record); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), s.path); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}

func emptyRecord() MonthRecord {
	return MonthRecord{Days: map[int]DayState{}}
}

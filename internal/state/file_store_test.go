package state

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nholik/slot-sentinel/internal/status"
	"github.com/rs/zerolog"
)

func TestFileStore_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, FileName)
	store := NewFileStore(path, zerolog.Nop())

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	record := MonthRecord{
		Facility:   "minami",
		Year:       2026,
		Month:      time.January,
		CapturedAt: now,
		Days: map[int]DayState{
			1:  {Status: status.Unavailable, Category: status.CategoryHoliday},
			2:  {Status: status.Partial, Category: status.CategoryTriangle},
			12: {Status: status.Available, Category: status.CategoryCircle},
			13: {Status: status.Undetermined},
		},
		Summary: map[string]int{"○": 1, "△": 1, "×": 1, "未判定": 1},
	}

	if err := store.Save(context.Background(), record); err != nil {
		t.Fatalf("save record: %v", err)
	}

	loaded, found, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if !found {
		t.Fatalf("expected record to be found")
	}
	if !loaded.CapturedAt.Equal(now) {
		t.Fatalf("unexpected captured_at %s", loaded.CapturedAt)
	}
	loaded.CapturedAt = record.CapturedAt
	if !reflect.DeepEqual(loaded, record) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, record)
	}
	if !reflect.DeepEqual(loaded.Statuses(), record.Statuses()) {
		t.Fatalf("status view mismatch")
	}
	if loaded.Categories()[1] != status.CategoryHoliday {
		t.Fatalf("expected holiday category for day 1")
	}
}

func TestFileStore_HumanReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	store := NewFileStore(path, zerolog.Nop())

	record := MonthRecord{
		Facility: "minami",
		Year:     2026,
		Month:    time.February,
		Days:     map[int]DayState{3: {Status: status.Available}},
	}
	if err := store.Save(context.Background(), record); err != nil {
		t.Fatalf("save record: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(data), `"available"`) || !strings.Contains(string(data), `"3"`) {
		t.Fatalf("expected named statuses keyed by day, got %s", data)
	}
}

func TestFileStore_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "missing.json")
	store := NewFileStore(path, zerolog.Nop())

	record, found, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if found {
		t.Fatalf("expected no record")
	}
	if len(record.Days) != 0 {
		t.Fatalf("expected empty record, got %v", record.Days)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, FileName)
	store := NewFileStore(path, zerolog.Nop())

	if err := os.WriteFile(path, []byte("{not-json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	_, found, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if found {
		t.Fatalf("expected corrupt file to be treated as missing")
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", FileName)
	store := NewFileStore(path, zerolog.Nop())

	for i := 0; i < 3; i++ {
		record := MonthRecord{Facility: "minami", Days: map[int]DayState{1: {Status: status.Status(i%3 + 1)}}}
		if err := store.Save(context.Background(), record); err != nil {
			t.Fatalf("save record: %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != FileName {
		t.Fatalf("expected only %s, got %v", FileName, entries)
	}
}

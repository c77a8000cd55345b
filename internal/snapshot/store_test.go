package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nholik/slot-sentinel/internal/state"
	"github.com/nholik/slot-sentinel/internal/status"
	"github.com/rs/zerolog"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testRecord(statuses map[int]status.Status) state.MonthRecord {
	days := make(map[int]state.DayState, len(statuses))
	for day, s := range statuses {
		days[day] = state.DayState{Status: s}
	}
	return state.MonthRecord{Facility: "minami", Year: 2026, Month: time.January, Days: days}
}

func TestPersist_FirstCaptureWritesHistory(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	store := New(root, Options{HistoryLimit: 5, Location: time.UTC, Now: fixedClock(now)}, zerolog.Nop())

	record := testRecord(map[int]status.Status{1: status.Unavailable})
	result, err := store.Persist(context.Background(), "minami", record, Capture{HTML: "<table/>", Image: []byte("png")})
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if !result.Changed {
		t.Fatalf("expected first capture to count as changed")
	}

	dir := filepath.Join(root, "minami", "2026年1月")
	if result.Dir != dir {
		t.Fatalf("expected dir %s, got %s", dir, result.Dir)
	}
	for _, name := range []string{"calendar.html", "calendar.png", "calendar_20260110_093000.html", "calendar_20260110_093000.png", state.FileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	loaded, found, err := store.Load(context.Background(), "minami", 2026, time.January)
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if loaded.Days[1].Status != status.Unavailable {
		t.Fatalf("unexpected persisted record %+v", loaded)
	}
}

func TestPersist_UnchangedSkipsHistory(t *testing.T) {
	root := t.TempDir()
	clock := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	store := New(root, Options{HistoryLimit: 5, Location: time.UTC, Now: func() time.Time { return clock }}, zerolog.Nop())
	record := testRecord(map[int]status.Status{1: status.Unavailable, 2: status.Partial})

	if _, err := store.Persist(context.Background(), "minami", record, Capture{HTML: "v1"}); err != nil {
		t.Fatalf("first persist: %v", err)
	}
	clock = clock.Add(time.Hour)
	result, err := store.Persist(context.Background(), "minami", record, Capture{HTML: "v2"})
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}
	if result.Changed || len(result.History) != 0 {
		t.Fatalf("expected unchanged persist without history, got %+v", result)
	}

	latest, err := os.ReadFile(filepath.Join(result.Dir, "calendar.html"))
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if string(latest) != "v2" {
		t.Fatalf("expected latest capture to be overwritten, got %q", latest)
	}
	history, err := History(result.Dir)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history file, got %v", history)
	}

	clock = clock.Add(time.Hour)
	changed := testRecord(map[int]status.Status{1: status.Available, 2: status.Partial})
	result, err = store.Persist(context.Background(), "minami", changed, Capture{HTML: "v3"})
	if err != nil {
		t.Fatalf("third persist: %v", err)
	}
	if !result.Changed || len(result.History) != 1 {
		t.Fatalf("expected changed persist to add history, got %+v", result)
	}
}

func TestPersist_RotationDropsOldest(t *testing.T) {
	root := t.TempDir()
	store := New(root, Options{
		HistoryLimit: 5,
		Location:     time.UTC,
		Now:          fixedClock(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)),
	}, zerolog.Nop())
	record := testRecord(map[int]status.Status{1: status.Unavailable})

	dir := store.MonthDir("minami", 2026, time.January)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := state.NewFileStore(filepath.Join(dir, state.FileName), zerolog.Nop()).Save(context.Background(), record); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	for i := 1; i <= 6; i++ {
		name := fmt.Sprintf("calendar_202601%02d_120000.html", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("old"), 0o644); err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}

	result, err := store.Persist(context.Background(), "minami", record, Capture{HTML: "now"})
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(result.Rotated) != 1 || result.Rotated[0] != "calendar_20260101_120000.html" {
		t.Fatalf("expected only the oldest file rotated, got %v", result.Rotated)
	}
	history, err := History(dir)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 5 || history[0] != "calendar_20260102_120000.html" {
		t.Fatalf("unexpected remaining history %v", history)
	}
	if _, err := os.Stat(filepath.Join(dir, "calendar.html")); err != nil {
		t.Fatalf("latest capture must never be rotated: %v", err)
	}
}

func TestPersist_ErrorIsPersistError(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "minami")
	if err := os.WriteFile(blocker, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	store := New(root, Options{Location: time.UTC}, zerolog.Nop())

	_, err := store.Persist(context.Background(), "minami", testRecord(map[int]status.Status{1: status.Available}), Capture{HTML: "x"})
	var persistErr *PersistError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistError, got %v", err)
	}
	if persistErr.Facility != "minami" {
		t.Fatalf("unexpected facility %q", persistErr.Facility)
	}
}

func TestSaveDebug(t *testing.T) {
	root := t.TempDir()
	store := New(root, Options{Location: time.UTC, Now: fixedClock(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))}, zerolog.Nop())

	path, err := store.SaveDebug("south/annex", "next-month:2", Capture{HTML: "<p>fail</p>", Image: []byte("png")})
	if err != nil {
		t.Fatalf("SaveDebug: %v", err)
	}
	want := filepath.Join(root, "_debug", "20260304_050607_south_annex_next-month_2.html")
	if path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}
	if _, err := os.Stat(filepath.Join(root, "_debug", "20260304_050607_south_annex_next-month_2.png")); err != nil {
		t.Fatalf("expected debug image: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		`a\b/c:d*e?f"g<h>i|j`: "a_b_c_d_e_f_g_h_i_j",
		"  南浦和 ":              "南浦和",
		"":                    "_",
		"..":                  "_",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

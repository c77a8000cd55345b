package journal

import (
	"context"
	"testing"
	"time"

	"github.com/nholik/slot-sentinel/internal/calendar"
	"github.com/nholik/slot-sentinel/internal/notify"
	"github.com/nholik/slot-sentinel/internal/status"
	"github.com/nholik/slot-sentinel/internal/transition"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func improvement(facility string, day int, prev, cur status.Status) transition.Improvement {
	return transition.Improvement{
		Facility:  facility,
		Year:      2026,
		Month:     time.January,
		DayChange: transition.DayChange{Day: day, Previous: prev, Current: cur},
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := t.TempDir() + "/nested/journal.db"

	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := first.AppliedMigrations(context.Background())
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer second.Close()
	v2, err := second.AppliedMigrations(context.Background())
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) == 0 || len(v1) != len(v2) {
		t.Fatalf("unexpected migrations: first %v, second %v", v1, v2)
	}
	if v1[0] != 1 {
		t.Fatalf("expected first migration version 1, got %d", v1[0])
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if v, err := parseMigrationVersion("007_add_index.sql"); err != nil || v != 7 {
		t.Fatalf("expected 7, got %d (%v)", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Fatalf("expected error for unnumbered migration")
	}
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	started := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	reports := []notify.FacilityReport{
		{
			Facility: "minami",
			Days: []notify.DayReport{
				{
					Improvement: improvement("minami", 12, status.Unavailable, status.Available),
					Slots:       []calendar.TimeSlot{{Label: "9～12時"}, {Label: "夜間"}},
					Inspected:   true,
				},
				{Improvement: improvement("minami", 13, status.Partial, status.Available)},
			},
		},
		{
			Facility: "kishi",
			Days:     []notify.DayReport{{Improvement: improvement("kishi", 3, status.Unavailable, status.Partial), Inspected: true}},
		},
	}

	run := Run{ID: "run-1", StartedAt: started, FinishedAt: started.Add(time.Minute), Facilities: 2}
	if err := j.Record(ctx, run, reports); err != nil {
		t.Fatalf("Record: %v", err)
	}

	all, err := j.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Facility != "kishi" || all[0].Day != "2026-01-03" {
		t.Fatalf("expected newest entry first, got %+v", all[0])
	}

	minami, err := j.Recent(ctx, "minami", 10)
	if err != nil {
		t.Fatalf("Recent minami: %v", err)
	}
	if len(minami) != 2 {
		t.Fatalf("expected 2 minami entries, got %d", len(minami))
	}
	first := minami[1]
	if first.Day != "2026-01-12" || first.Previous != status.Unavailable || first.Current != status.Available {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if !first.Inspected || len(first.Slots) != 2 || first.Slots[0] != "9～12時" {
		t.Fatalf("unexpected slots: %+v", first)
	}
	if !first.RunAt.Equal(started) || first.RunID != "run-1" {
		t.Fatalf("unexpected run fields: %+v", first)
	}
	if minami[0].Inspected || len(minami[0].Slots) != 0 {
		t.Fatalf("expected uninspected day without slots, got %+v", minami[0])
	}

	limited, err := j.Recent(ctx, "", 1)
	if err != nil {
		t.Fatalf("Recent limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(limited))
	}
}

func TestRecordEmptyRun(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.Record(ctx, Run{ID: "quiet", StartedAt: time.Now(), FinishedAt: time.Now()}, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries, err := j.Recent(ctx, "", 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}

	if err := j.Record(ctx, Run{ID: "quiet"}, nil); err == nil {
		t.Fatalf("expected duplicate run id to fail")
	}
}

func TestNilJournal(t *testing.T) {
	var j *Journal
	if err := j.Record(context.Background(), Run{ID: "x"}, nil); err != nil {
		t.Fatalf("expected nil journal to ignore records, got %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("expected nil close to succeed, got %v", err)
	}
}

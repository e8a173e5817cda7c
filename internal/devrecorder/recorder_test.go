package devrecorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/httprunner/scanrig"
)

func TestJournalRecordsEvents(t *testing.T) {
	dir := t.TempDir()
	rec, err := Open(dir, "20260314-093000-book", true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	journal, ok := rec.(*Journal)
	if !ok {
		t.Fatalf("expected *Journal, got %T", rec)
	}
	defer journal.Close()

	now := time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC)
	events := []scanrig.Event{
		{ID: "e1", OperationID: "op-1", Kind: scanrig.EventOperationStarted, Time: now},
		{ID: "e2", OperationID: "op-1", Kind: scanrig.EventCaptureFailed, Time: now, Role: scanrig.RoleSecondary,
			Identity: "SN-A", Address: "usb:001,014", Filename: "img00001.jpg", ExitCode: 1,
			ErrorKind: scanrig.KindCaptureProcessFailure, Error: "secondary camera SN-A at usb:001,014 exit 1"},
		{ID: "e3", OperationID: "op-1", Kind: scanrig.EventOperationFailed, Time: now, ErrorKind: scanrig.KindPartialPairFailure},
		{ID: "e4", Kind: scanrig.EventModeChanged, Time: now, Mode: scanrig.ModeSequential},
	}
	for _, ev := range events {
		journal.Notify(ev)
	}
	// Duplicate event ids are ignored.
	journal.Notify(events[0])

	entries, err := journal.Entries(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries for op-1, got %d", len(entries))
	}
	failed := entries[1]
	if failed.Kind != scanrig.EventCaptureFailed || failed.Role != "secondary" || failed.Serial != "SN-A" || failed.ExitCode != 1 {
		t.Fatalf("failed entry mismatch: %+v", failed)
	}
	if !failed.RecordedAt.Equal(now) {
		t.Fatalf("recorded time mismatch: %s", failed.RecordedAt)
	}

	counts, err := journal.CountByKind(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[scanrig.EventOperationStarted] != 1 || counts[scanrig.EventModeChanged] != 1 {
		t.Fatalf("count mismatch: %v", counts)
	}

	if _, err := os.Stat(filepath.Join(dir, JournalFile)); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}
}

func TestJournalRejectsWritesAfterClose(t *testing.T) {
	journal, err := OpenJournal(filepath.Join(t.TempDir(), JournalFile), "s")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := journal.Record(context.Background(), scanrig.Event{ID: "x", Kind: scanrig.EventOperationStarted}); err == nil {
		t.Fatal("closed journal should reject writes")
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestOpenDisabledIsNoop(t *testing.T) {
	rec, err := Open(t.TempDir(), "s", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := rec.(NoopRecorder); !ok {
		t.Fatalf("expected NoopRecorder, got %T", rec)
	}
	rec.Notify(scanrig.Event{Kind: scanrig.EventOperationStarted})
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

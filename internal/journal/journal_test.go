package journal

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openMemory(t *testing.T, maxEvents int) *Journal {
	t.Helper()
	j, err := Open(context.Background(), config.JournalConfig{Mode: "memory", MaxEvents: maxEvents}, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenOffIsNoop(t *testing.T) {
	j, err := Open(context.Background(), config.JournalConfig{Mode: "off"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Enabled() {
		t.Fatal("off journal should not be enabled")
	}
	if err := j.Append(context.Background(), Entry{Type: "transcription"}); err != nil {
		t.Fatalf("append on off journal: %v", err)
	}
	entries, err := j.List(context.Background(), "", 10)
	if err != nil || entries != nil {
		t.Fatalf("expected no entries, got %v err=%v", entries, err)
	}
	j.Sink(nil)(protocol.StatusEvent(true))
}

func TestAppendAndList(t *testing.T) {
	j := openMemory(t, 100)
	ctx := context.Background()
	j.clock = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	on := true
	if err := j.Append(ctx, Entry{RecordingID: "rec-1", Type: "recordingStatus", IsRecording: &on}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(ctx, Entry{RecordingID: "rec-1", Type: "transcription", Text: "chest pain since monday"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(ctx, Entry{RecordingID: "rec-2", Type: "transcription", Text: "second consult"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := j.List(ctx, "rec-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for rec-1, got %d", len(entries))
	}
	if entries[0].IsRecording == nil || !*entries[0].IsRecording {
		t.Fatalf("expected status entry first, got %+v", entries[0])
	}
	if entries[1].Text != "chest pain since monday" || entries[1].IsRecording != nil {
		t.Fatalf("unexpected transcription entry %+v", entries[1])
	}
	if !entries[1].CreatedAt.Equal(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", entries[1].CreatedAt)
	}

	all, err := j.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[1].Text != "second consult" {
		t.Fatalf("limit should keep the newest entries in ascending order, got %+v", all)
	}

	ids, err := j.Recordings(ctx)
	if err != nil {
		t.Fatalf("recordings: %v", err)
	}
	if len(ids) != 2 || ids[0] != "rec-1" {
		t.Fatalf("unexpected recordings %v", ids)
	}
}

func TestPruneToMaxEvents(t *testing.T) {
	j := openMemory(t, 3)
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		if err := j.Append(ctx, Entry{Type: "transcription", Text: text}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := j.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 || entries[0].Text != "c" || entries[2].Text != "e" {
		t.Fatalf("expected newest three entries, got %+v", entries)
	}
}

func TestSinkRecordsBroadcasts(t *testing.T) {
	j := openMemory(t, 100)
	current := "rec-9"
	sink := j.Sink(func() string { return current })

	sink(protocol.StatusEvent(true))
	sink(protocol.TextEvent(protocol.EventDiagnoses, "Migraine"))

	entries, err := j.List(context.Background(), "rec-9", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[1].Type != "diagnoses" || entries[1].Text != "Migraine" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

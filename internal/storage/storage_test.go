package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "palbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "NONE"} {
		st, err := Open(Config{Driver: driver}, logx.Logger{})
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Logger{}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreSettingsRoundtrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "palbot_store")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Logger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, ok, err := st.GetSetting(ctx, "global_paused"); err != nil || ok {
		t.Fatalf("absent key: ok=%v err=%v", ok, err)
	}
	if err := st.PutSetting(ctx, "global_paused", "true"); err != nil {
		t.Fatalf("PutSetting: %v", err)
	}
	v, ok, err := st.GetSetting(ctx, "global_paused")
	if err != nil || !ok || v != "true" {
		t.Fatalf("GetSetting = (%q, %v, %v)", v, ok, err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Settings survive a reopen.
	st2, err := Open(Config{Driver: "file", Path: path}, logx.Logger{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	v, ok, err = st2.GetSetting(ctx, "global_paused")
	if err != nil || !ok || v != "true" {
		t.Fatalf("after reopen GetSetting = (%q, %v, %v)", v, ok, err)
	}
}

func TestFileStoreOutcomesAppend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "palbot_store")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Logger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	outcomes := []Outcome{
		{At: at, Conversation: "c1", Agent: "ana", Result: "sent"},
		{At: at, Conversation: "c1", Agent: "ana", Result: "duplicate"},
		{Conversation: "c2", Agent: "bob", Result: "rate_limited"}, // At filled in
	}
	for _, o := range outcomes {
		if err := st.RecordOutcome(ctx, o); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	f, err := os.Open(path + ".outcomes.jsonl")
	if err != nil {
		t.Fatalf("open outcomes file: %v", err)
	}
	defer f.Close()

	var lines []outcomeRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec outcomeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad outcome line: %v", err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 3 {
		t.Fatalf("outcome lines = %d, want 3", len(lines))
	}
	if lines[1].Result != "duplicate" || lines[1].Agent != "ana" {
		t.Fatalf("unexpected record: %+v", lines[1])
	}
	if lines[2].At == "" {
		t.Fatal("zero At should be stamped at record time")
	}
}

func TestSQLiteStoreRoundtrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "palbot.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Logger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := st.PutSetting(ctx, "concurrency_limit", "6"); err != nil {
		t.Fatalf("PutSetting: %v", err)
	}
	// Upsert semantics.
	if err := st.PutSetting(ctx, "concurrency_limit", "8"); err != nil {
		t.Fatalf("PutSetting update: %v", err)
	}
	v, ok, err := st.GetSetting(ctx, "concurrency_limit")
	if err != nil || !ok || v != "8" {
		t.Fatalf("GetSetting = (%q, %v, %v)", v, ok, err)
	}

	if err := st.RecordOutcome(ctx, Outcome{Conversation: "c", Agent: "ana", Result: "sent"}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Values survive a reopen (and migrations are idempotent).
	st2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Logger{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	v, ok, err = st2.GetSetting(ctx, "concurrency_limit")
	if err != nil || !ok || v != "8" {
		t.Fatalf("after reopen GetSetting = (%q, %v, %v)", v, ok, err)
	}
}

package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "bacsched/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bacsched")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open with no driver = %v, %v, want nil store", st, err)
	}
	st, err = Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = %v, %v, want nil store", st, err)
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreAppend(t *testing.T) {
	t.Parallel()
	st, dir := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	err := st.AppendDispatch(ctx, DispatchEntry{
		At:       now,
		Schedule: "schedule:1",
		Target:   "local/analog-value:1/present-value",
		Value:    "21.5",
		Outcome:  "ok",
	})
	if err != nil {
		t.Fatalf("AppendDispatch: %v", err)
	}
	err = st.AppendTransition(ctx, TransitionEntry{
		At:       now,
		Device:   1000,
		Object:   "schedule:1",
		Property: "present-value",
		Old:      "16",
		New:      "21.5",
	})
	if err != nil {
		t.Fatalf("AppendTransition: %v", err)
	}

	dispatchPath := filepath.Join(dir, "bacsched.dispatch.jsonl")
	if got := countLines(t, dispatchPath); got != 1 {
		t.Fatalf("dispatch lines = %d, want 1", got)
	}

	// Round-trip the dispatch line.
	b, err := os.ReadFile(dispatchPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var e DispatchEntry
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Outcome != "ok" || e.Value != "21.5" {
		t.Fatalf("entry = %+v", e)
	}

	historyPath := filepath.Join(dir, "bacsched.history.jsonl")
	if got := countLines(t, historyPath); got != 1 {
		t.Fatalf("history lines = %d, want 1", got)
	}
}

func TestFileStorePrune(t *testing.T) {
	t.Parallel()
	st, dir := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	old := now.Add(-48 * time.Hour)
	for _, at := range []time.Time{old, old.Add(time.Hour), now} {
		if err := st.AppendDispatch(ctx, DispatchEntry{At: at, Outcome: "ok"}); err != nil {
			t.Fatalf("AppendDispatch: %v", err)
		}
		if err := st.AppendTransition(ctx, TransitionEntry{At: at, New: "x"}); err != nil {
			t.Fatalf("AppendTransition: %v", err)
		}
	}

	if err := st.Prune(ctx, now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	dispatchPath := filepath.Join(dir, "bacsched.dispatch.jsonl")
	historyPath := filepath.Join(dir, "bacsched.history.jsonl")
	if got := countLines(t, dispatchPath); got != 1 {
		t.Fatalf("dispatch lines after prune = %d, want 1", got)
	}
	if got := countLines(t, historyPath); got != 1 {
		t.Fatalf("history lines after prune = %d, want 1", got)
	}

	// Appends keep working on the reopened handles.
	if err := st.AppendDispatch(ctx, DispatchEntry{At: now, Outcome: "ok"}); err != nil {
		t.Fatalf("AppendDispatch after prune: %v", err)
	}
	if got := countLines(t, dispatchPath); got != 2 {
		t.Fatalf("dispatch lines = %d, want 2", got)
	}
}

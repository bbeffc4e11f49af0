package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatchSetRelevant(t *testing.T) {
	dir := t.TempDir()
	set := &watchSet{
		files: map[string]bool{filepath.Join(dir, "trendfire.cue"): true},
		dirs:  map[string]bool{filepath.Join(dir, "policies"): true},
	}

	tests := []struct {
		name string
		want bool
	}{
		{filepath.Join(dir, "trendfire.cue"), true},
		{filepath.Join(dir, "other.cue"), false},
		{filepath.Join(dir, "policies", "scale.rego"), true},
		{filepath.Join(dir, "policies", "notes.txt"), false},
		{filepath.Join(dir, "policies", "nested", "scale.rego"), false},
	}
	for _, tt := range tests {
		if got := set.relevant(tt.name); got != tt.want {
			t.Errorf("relevant(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWatchCoalescesChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "trendfire.cue", `project: "goa-fire"`)

	w := NewWatcher(zerolog.Nop())
	w.delay = 20 * time.Millisecond

	fw, set, err := w.add([]string{path})
	if err != nil {
		t.Fatalf("add() error = %v", err)
	}
	defer fw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- w.loop(ctx, fw, set, func() { changes <- struct{}{} })
	}()

	writeFile(t, dir, "unrelated.txt", "x")
	for i := 0; i < 3; i++ {
		writeFile(t, dir, "trendfire.cue", `project: "goa-fire-2"`)
	}

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case <-changes:
		t.Error("burst of writes reported more than once")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("loop() error = %v", err)
	}
}

func TestWatchNothing(t *testing.T) {
	w := NewWatcher(zerolog.Nop())
	if err := w.Watch(context.Background(), []string{""}, func() {}); err == nil {
		t.Error("Watch() with no paths succeeded")
	}
}

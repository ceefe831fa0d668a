package watch

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestWatcherReportsChangedInputs(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "user_project_wrapper.v")
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(watched, []byte("module a; endmodule\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	logger, _ := test.NewNullLogger()
	w, err := New([]string{watched}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	w.Debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runs := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, changed []string) error {
			runs <- changed
			return nil
		})
	}()

	if err := os.WriteFile(other, []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(watched, []byte("module b; endmodule\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case changed := <-runs:
		if !reflect.DeepEqual(changed, []string{watched}) {
			t.Fatalf("expected only the watched file, got %v", changed)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a re-run after the write")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected a clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected Run to return after cancel")
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatalf("expected an error without files")
	}
	missing := filepath.Join(t.TempDir(), "absent", "file.v")
	if _, err := New([]string{missing}, nil); err == nil {
		t.Fatalf("expected an error for a missing directory")
	}
}

func TestFilesSorted(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{filepath.Join(dir, "b.v"), filepath.Join(dir, "a.v")}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	want := []string{filepath.Join(dir, "a.v"), filepath.Join(dir, "b.v")}
	if got := w.Files(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCountFiles_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	count := CountFiles(dir)
	if count != 0 {
		t.Errorf("expected 0 files, got %d", count)
	}
}

func TestCountFiles_WithFiles(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		os.WriteFile(filepath.Join(dir, "file"+string(rune('a'+i))+".txt"), []byte("test"), 0644)
	}

	count := CountFiles(dir)
	if count != 5 {
		t.Errorf("expected 5 files, got %d", count)
	}
}

func TestCountFiles_Nested(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "sub", "deeper"), 0755)
	os.WriteFile(filepath.Join(dir, "top.txt"), []byte("test"), 0644)
	os.WriteFile(filepath.Join(dir, "sub", "deeper", "leaf.txt"), []byte("test"), 0644)

	if count := CountFiles(dir); count != 2 {
		t.Errorf("expected 2 files, got %d", count)
	}
}

func TestCountFiles_ExcludesNodeModules(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("test"), 0644)

	nmDir := filepath.Join(dir, "node_modules")
	os.MkdirAll(nmDir, 0755)
	os.WriteFile(filepath.Join(nmDir, "package.json"), []byte("test"), 0644)

	count := CountFiles(dir)
	if count != 1 {
		t.Errorf("expected 1 file (node_modules excluded), got %d", count)
	}
}

func TestCountFiles_ExcludesGit(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("test"), 0644)

	gitDir := filepath.Join(dir, ".git")
	os.MkdirAll(gitDir, 0755)
	os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref"), 0644)

	count := CountFiles(dir)
	if count != 1 {
		t.Errorf("expected 1 file (.git excluded), got %d", count)
	}
}

func TestCountFiles_ExcludesHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("test"), 0644)
	os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET"), 0644)

	count := CountFiles(dir)
	if count != 1 {
		t.Errorf("expected 1 file (hidden files excluded), got %d", count)
	}
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".git", true},
		{".env", true},
		{"main.go", false},
		{"", false},
	}

	for _, tt := range tests {
		got := isHidden(tt.name)
		if got != tt.want {
			t.Errorf("isHidden(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWatcher_ReportsNewFiles(t *testing.T) {
	dir := t.TempDir()
	counts := make(chan int, 10)

	w := NewWatcher(dir, func(n int) { counts <- n }, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Close()

	// Initial count is delivered synchronously by Start.
	select {
	case n := <-counts:
		if n != 0 {
			t.Fatalf("expected initial count 0, got %d", n)
		}
	default:
		t.Fatal("expected initial count callback")
	}

	os.WriteFile(filepath.Join(dir, "agent_test_file.txt"), []byte("Hello"), 0644)

	select {
	case n := <-counts:
		if n != 1 {
			t.Errorf("expected count 1, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for count update")
	}

	if w.Count() != 1 {
		t.Errorf("expected Count() 1, got %d", w.Count())
	}
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	counts := make(chan int, 10)

	w := NewWatcher(dir, func(n int) { counts <- n }, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Close()
	<-counts

	sub := filepath.Join(dir, "sub")
	os.Mkdir(sub, 0755)
	// Let the directory create event register the new watch.
	time.Sleep(debounceInterval + 200*time.Millisecond)
	os.WriteFile(filepath.Join(sub, "nested.txt"), []byte("x"), 0644)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-counts:
			if n == 1 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for nested file count")
		}
	}
}

func TestWatcher_CloseTwice(t *testing.T) {
	w := NewWatcher(t.TempDir(), nil, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Close()
	w.Close()
}

func TestWatcher_StartMissingDir(t *testing.T) {
	w := NewWatcher("/nonexistent/path/xyz", nil, nil)
	if err := w.Start(); err == nil {
		w.Close()
	}
}

package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileDurable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "a.envelope.json")

	if err := WriteFileDurable(path, []byte(`{"v":1}`), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Fatalf("unexpected content: %s", data)
	}
}

func TestWriteFileDurable_RefusesOverwrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "a.envelope.json")

	if err := WriteFileDurable(path, []byte("first"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := WriteFileDurable(path, []byte("second"), 0o600)
	if err == nil {
		t.Fatalf("expected error writing over existing file")
	}
	if !IsExist(err) {
		t.Fatalf("expected exist error, got %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "first" {
		t.Fatalf("existing content must be untouched, got %s", data)
	}
}

func TestWriteFileAtomic_Replaces(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "current_session.json")

	if err := WriteFileAtomic(path, []byte("v1"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("v2"), 0o600); err != nil {
		t.Fatalf("unexpected error replacing: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "v2" {
		t.Fatalf("expected replacement content, got %s", data)
	}
}

func TestMoveFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "current_session.json")
	dst := filepath.Join(dir, "previous_session.json")

	if err := os.WriteFile(src, []byte("sess"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source must be gone after move")
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "sess" {
		t.Fatalf("destination content wrong: %s, %v", data, err)
	}
}

func TestRemoveIfExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "crash_marker")

	if err := RemoveIfExists(path); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}

	if err := os.WriteFile(path, []byte("ts"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := RemoveIfExists(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file must be removed")
	}
}

func TestReadFileScoped(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "previous_session.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	data, err := ReadFileScoped(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{}` {
		t.Fatalf("unexpected content: %s", data)
	}

	if _, err := ReadFileScoped(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

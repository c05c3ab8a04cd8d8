package bundle

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, contents map[string]string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for name, body := range contents {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestWriteFileAndOpen(t *testing.T) {
	contents := map[string]string{
		"frame_1000.jpg": string(bytes.Repeat([]byte("highlight "), 500)),
		"frame_2000.jpg": "short",
	}
	files := writeFiles(t, contents)
	path := filepath.Join(t.TempDir(), "highlights.zip")

	size, err := WriteFile(path, files)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if size <= 0 {
		t.Fatalf("size = %d", size)
	}

	rc, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	if len(rc.File) != len(contents) {
		t.Fatalf("bundle has %d entries, want %d", len(rc.File), len(contents))
	}
	for _, f := range rc.File {
		if f.Method != Method {
			t.Errorf("%s stored with method %d, want %d", f.Name, f.Method, Method)
		}
		r, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		got, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		if string(got) != contents[f.Name] {
			t.Errorf("entry %s content mismatch", f.Name)
		}
	}
}

func TestWriteFile_MissingInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	if _, err := WriteFile(path, []string{filepath.Join(t.TempDir(), "nope.jpg")}); err == nil {
		t.Fatal("expected an error for a missing input file")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("partial bundle left behind")
	}
}

func TestWrite_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("an empty bundle still has a central directory")
	}
}

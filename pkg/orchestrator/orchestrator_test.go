package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRenderWritesExecutedTemplate(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.conf")

	o := New(Config{WorkDir: dir})
	err := o.Render(context.Background(), "listen={{.Port}}\n", dest, struct{ Port int }{Port: 9100})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "listen=9100\n" {
		t.Errorf("got %q, want %q", got, "listen=9100\n")
	}
}

func TestRenderReportsTemplateParseError(t *testing.T) {
	dir := t.TempDir()
	o := New(Config{WorkDir: dir})

	err := o.Render(context.Background(), "{{.Broken", filepath.Join(dir, "out"), nil)
	if err == nil {
		t.Fatal("expected an error for malformed template")
	}
}

func TestLogWriterSplitsMultilineOutput(t *testing.T) {
	var lines []string
	lw := &logWriter{logFn: func(line string) { lines = append(lines, line) }}

	n, err := lw.Write([]byte("first\nsecond\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("first\nsecond\n") {
		t.Errorf("n = %d, want %d", n, len("first\nsecond\n"))
	}
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Errorf("lines = %v, want [first second]", lines)
	}
}

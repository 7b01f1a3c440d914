package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	content := `version: v1.2.0
tapeSize: 4KiB
baseAddress: 0x800000
maxCodeSize: 1m
output: hello
`
	path := filepath.Join(dir, Filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write yaml: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Version != "v1.2.0" {
		t.Errorf("Version = %q, want v1.2.0", cfg.Version)
	}
	if cfg.BaseAddress != 0x800000 {
		t.Errorf("BaseAddress = %#x, want 0x800000", cfg.BaseAddress)
	}
	if cfg.Output != "hello" {
		t.Errorf("Output = %q, want hello", cfg.Output)
	}
	tape, err := cfg.TapeBytes()
	if err != nil || tape != 4096 {
		t.Errorf("TapeBytes() = %d, %v, want 4096", tape, err)
	}
	limit, err := cfg.MaxCodeBytes()
	if err != nil || limit != 1<<20 {
		t.Errorf("MaxCodeBytes() = %d, %v, want %d", limit, err, 1<<20)
	}
}

func TestParseDefaults(t *testing.T) {
	for _, doc := range []string{"", "# nothing here\n", "version: \"1\"\n"} {
		cfg, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", doc, err)
		}
		if !strings.HasPrefix(cfg.Version, "v1") {
			t.Errorf("Parse(%q).Version = %q, want v1.x", doc, cfg.Version)
		}
		if n, _ := cfg.TapeBytes(); n != 0 {
			t.Errorf("Parse(%q) tape = %d, want 0", doc, n)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
		want string
	}{
		{"future major", "version: v2.0.0\n", "unsupported config version"},
		{"not semver", "version: banana\n", "invalid version"},
		{"bad tape", "tapeSize: lots\n", "tapeSize"},
		{"bad limit", "maxCodeSize: -3\n", "maxCodeSize"},
		{"unknown key", "tape: 512\n", "field tape not found"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil {
				t.Fatalf("Parse(%q) succeeded", tc.doc)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("Load of missing file succeeded")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	want := Config{TapeSize: "30000", BaseAddress: 0x10000, Output: "out"}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want.Version = CurrentVersion
	if got != want {
		t.Fatalf("got=%+v, want %+v", got, want)
	}
}

func TestParseSize(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int
	}{
		{"512", 512},
		{"4k", 4096},
		{"4KiB", 4096},
		{" 64KB ", 64 << 10},
		{"1.5KiB", 1536},
	} {
		got, err := ParseSize(tc.in)
		if err != nil {
			t.Fatalf("ParseSize(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseSize(%q)=%d, want %d", tc.in, got, tc.want)
		}
	}
	if _, err := ParseSize("twelve"); err == nil {
		t.Fatalf("ParseSize(twelve) succeeded")
	}
}

func TestFormatSize(t *testing.T) {
	if got, want := FormatSize(4096), "4KiB"; got != want {
		t.Fatalf("FormatSize(4096)=%q, want %q", got, want)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	got, err := Find(dir)
	if err != nil || got != "" {
		t.Fatalf("Find(empty dir) = %q, %v, want no file", got, err)
	}

	path := filepath.Join(dir, Filename)
	if err := os.WriteFile(path, []byte("version: v1.0.0\n"), 0o644); err != nil {
		t.Fatalf("failed to write yaml: %v", err)
	}
	got, err = Find(dir)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got != path {
		t.Fatalf("got=%q, want %q", got, path)
	}
}

func TestFindDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, Filename), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := Find(dir); err == nil {
		t.Fatalf("Find accepted a directory named %s", Filename)
	}
}

package bfc_test

import (
	"bytes"
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/bfc"
)

func writeSource(t *testing.T, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, "prog.bf")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestCompileFile(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, "+++++ +++++ [ > +++++ +++++ < - ] > .")
	output := filepath.Join(dir, "prog")

	stats, err := bfc.CompileFile(input, output)
	if err != nil {
		t.Fatalf("CompileFile failed: %v", err)
	}
	if stats.Opcodes != 11 || stats.Loops != 1 {
		t.Errorf("stats=%+v, want 11 opcodes and 1 loop", stats)
	}
	if stats.TapeSize != bfc.DefaultTapeSize {
		t.Errorf("TapeSize=%d, want %d", stats.TapeSize, bfc.DefaultTapeSize)
	}

	info, err := os.Stat(output)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if got, want := info.Mode().Perm(), os.FileMode(0o755); got != want {
		t.Fatalf("mode=%v, want %v", got, want)
	}
	if got := int(info.Size()); got != stats.ImageSize {
		t.Fatalf("size=%d, want %d", got, stats.ImageSize)
	}

	f, err := elf.Open(output)
	if err != nil {
		t.Fatalf("elf.Open: %v", err)
	}
	defer f.Close()
	if f.Type != elf.ET_EXEC || f.Machine != elf.EM_X86_64 {
		t.Fatalf("type=%v machine=%v", f.Type, f.Machine)
	}
	if got, want := f.Entry, uint64(bfc.DefaultBaseAddress+120); got != want {
		t.Fatalf("entry=%#x, want %#x", got, want)
	}
	if len(f.Progs) != 1 || f.Progs[0].Type != elf.PT_LOAD {
		t.Fatalf("program headers=%v, want one PT_LOAD", f.Progs)
	}
	if got := int(f.Progs[0].Filesz); got != stats.CodeSize {
		t.Fatalf("filesz=%d, want %d", got, stats.CodeSize)
	}

	matches, err := filepath.Glob(filepath.Join(dir, ".prog.tmp*"))
	if err != nil || len(matches) != 0 {
		t.Fatalf("temporary files left behind: %v (%v)", matches, err)
	}
}

func TestCompileFileBracketErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		want error
	}{
		{"unmatched close", "]", bfc.ErrUnmatchedClose},
		{"unmatched open", "[", bfc.ErrUnmatchedOpen},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			input := writeSource(t, dir, tc.src)
			output := filepath.Join(dir, "prog")

			_, err := bfc.CompileFile(input, output)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
			if !errors.Is(err, bfc.ErrUnmatchedBracket) {
				t.Fatalf("err=%v is not ErrUnmatchedBracket", err)
			}
			var berr *bfc.BracketError
			if !errors.As(err, &berr) || berr.Pos.Line != 1 || berr.Pos.Column != 1 {
				t.Fatalf("err=%v, want bracket error at 1:1", err)
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("directory has %d entries, want only the source", len(entries))
			}
		})
	}
}

func TestCompileFileKeepsExistingOutputOnError(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "prog")
	if err := os.WriteFile(output, []byte("previous"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}
	input := writeSource(t, dir, "[[]")
	if _, err := bfc.CompileFile(input, output); err == nil {
		t.Fatalf("CompileFile succeeded")
	}
	data, err := os.ReadFile(output)
	if err != nil || string(data) != "previous" {
		t.Fatalf("output changed: %q, %v", data, err)
	}
}

func TestCompileFileMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := bfc.CompileFile(filepath.Join(dir, "absent.bf"), filepath.Join(dir, "out"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v, want ErrNotExist", err)
	}
}

func TestCompileFileDefaultOutput(t *testing.T) {
	dir := t.TempDir()
	input := writeSource(t, dir, ".")
	t.Chdir(dir)

	if _, err := bfc.CompileFile(input, ""); err != nil {
		t.Fatalf("CompileFile failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, bfc.DefaultOutput)); err != nil {
		t.Fatalf("default output missing: %v", err)
	}
}

func TestCompileDeterministic(t *testing.T) {
	src := "++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+."
	a, err := bfc.Compile(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	b, err := bfc.Compile(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("compiling twice produced different images")
	}
}

func TestCompileRawOutput(t *testing.T) {
	res, err := bfc.Build(strings.NewReader("+."))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	raw, err := bfc.Compile(strings.NewReader("+."), bfc.WithRawOutput())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !bytes.Equal(raw, res.Code.Bytes()) {
		t.Fatalf("raw output differs from generated code")
	}
	if !bytes.Equal(res.Image[120:], raw) {
		t.Fatalf("image does not end with the generated code")
	}
}

func TestCompileOptions(t *testing.T) {
	image, err := bfc.Compile(strings.NewReader(""), bfc.WithBaseAddress(0x10000))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	if got, want := f.Entry, uint64(0x10000+120); got != want {
		t.Fatalf("entry=%#x, want %#x", got, want)
	}

	if _, err := bfc.Compile(strings.NewReader(""), bfc.WithBaseAddress(0x10001)); err == nil {
		t.Fatalf("unaligned base address accepted")
	}
	if _, err := bfc.Compile(strings.NewReader(""), bfc.WithTapeSize(bfc.MaxTapeSize+1)); !errors.Is(err, bfc.ErrInvalidOptions) {
		t.Fatalf("err=%v, want ErrInvalidOptions", err)
	}
	_, err = bfc.Compile(strings.NewReader(strings.Repeat(".,", 1000)), bfc.WithMaxCodeSize(256))
	if !errors.Is(err, bfc.ErrResourceExhausted) {
		t.Fatalf("err=%v, want ErrResourceExhausted", err)
	}

	res, err := bfc.Build(strings.NewReader(""), bfc.WithTapeSize(100))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if res.Stats.TapeSize != 112 {
		t.Fatalf("TapeSize=%d, want 112", res.Stats.TapeSize)
	}
}

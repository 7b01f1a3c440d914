package testutil

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

// MachineX86_64 is the ELF e_machine value for AMD64.
const MachineX86_64 = uint16(elf.EM_X86_64)

// DisasmLine represents a single instruction line emitted by objdump.
type DisasmLine struct {
	Address    uint64
	Text       string
	Normalized string
	Mnemonic   string
}

// Contains reports whether the normalized instruction text contains the provided substring.
func (l DisasmLine) Contains(substr string) bool {
	return strings.Contains(l.Normalized, substr)
}

// DisassembleWithObjdump wraps the provided code bytes into an ELF object
// with a single .text section at address zero and runs GNU objdump -d
// --no-show-raw-insn on it. The test is skipped when objdump is missing.
func DisassembleWithObjdump(t *testing.T, code []byte, machine uint16, extraArgs ...string) []DisasmLine {
	t.Helper()

	toolPath, err := exec.LookPath("objdump")
	if err != nil {
		t.Skipf("objdump not found: %v", err)
	}

	path := t.TempDir() + "/code.elf"
	if err := os.WriteFile(path, textOnlyELF(code, machine), 0o644); err != nil {
		t.Fatalf("write temp ELF: %v", err)
	}

	args := append([]string{"-d", "--no-show-raw-insn"}, extraArgs...)
	args = append(args, path)
	output, err := exec.Command(toolPath, args...).CombinedOutput()
	if err != nil {
		t.Fatalf("objdump failed: %v\n\n%s", err, output)
	}

	lines, err := parseObjdumpOutput(string(output))
	if err != nil {
		t.Fatalf("parse objdump output: %v", err)
	}
	if len(lines) == 0 {
		t.Fatalf("objdump produced no instructions:\n%s", output)
	}
	return lines
}

// textOnlyELF lays out: ELF header, .text, .shstrtab, section headers.
func textOnlyELF(code []byte, machine uint16) []byte {
	const (
		ehdrSize  = 64
		shdrSize  = 64
		numShdrs  = 3 // null, .text, .shstrtab
		textAlign = 16
	)

	shstr := []byte("\x00.text\x00.shstrtab\x00")
	textOff := ehdrSize
	shstrOff := align(textOff+len(code), textAlign)
	shdrOff := align(shstrOff+len(shstr), 8)

	buf := make([]byte, shdrOff+numShdrs*shdrSize)
	copy(buf[textOff:], code)
	copy(buf[shstrOff:], shstr)

	le := binary.LittleEndian
	copy(buf, elf.ELFMAG)
	buf[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	buf[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	buf[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	le.PutUint16(buf[18:], machine)
	le.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(buf[40:], uint64(shdrOff))
	le.PutUint16(buf[52:], ehdrSize)
	le.PutUint16(buf[58:], shdrSize)
	le.PutUint16(buf[60:], numShdrs)
	le.PutUint16(buf[62:], 2) // .shstrtab index

	text := buf[shdrOff+shdrSize:]
	le.PutUint32(text[0:], 1) // name offset of ".text"
	le.PutUint32(text[4:], uint32(elf.SHT_PROGBITS))
	le.PutUint64(text[8:], uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR))
	le.PutUint64(text[24:], uint64(textOff))
	le.PutUint64(text[32:], uint64(len(code)))
	le.PutUint64(text[48:], textAlign)

	strtab := buf[shdrOff+2*shdrSize:]
	le.PutUint32(strtab[0:], uint32(len("\x00.text\x00")))
	le.PutUint32(strtab[4:], uint32(elf.SHT_STRTAB))
	le.PutUint64(strtab[24:], uint64(shstrOff))
	le.PutUint64(strtab[32:], uint64(len(shstr)))
	le.PutUint64(strtab[48:], 1)

	return buf
}

func parseObjdumpOutput(out string) ([]DisasmLine, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	var lines []DisasmLine
	for scanner.Scan() {
		line := scanner.Text()
		colon := strings.IndexRune(line, ':')
		if colon == -1 {
			continue
		}
		var addr uint64
		if _, err := fmt.Sscanf(strings.TrimSpace(line[:colon]), "%x", &addr); err != nil {
			continue
		}
		text := strings.TrimSpace(line[colon+1:])
		if text == "" || strings.HasPrefix(text, "<") || strings.HasPrefix(text, ".") {
			continue
		}
		fields := strings.Fields(text)
		lines = append(lines, DisasmLine{
			Address:    addr,
			Text:       text,
			Normalized: strings.Join(fields, " "),
			Mnemonic:   strings.ToLower(fields[0]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return lines, nil
}

func align(value int, boundary int) int {
	if rem := value % boundary; rem != 0 {
		return value + boundary - rem
	}
	return value
}

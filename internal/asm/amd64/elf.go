package amd64

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/bfc/internal/asm"
)

const (
	elfHeaderSize        = 64
	elfProgramHeaderSize = 56

	// HeaderSize is the number of bytes placed in front of the code: the ELF
	// file header followed by a single program header.
	HeaderSize = elfHeaderSize + elfProgramHeaderSize

	DefaultBaseAddress = 0x400000
)

var (
	defaultStandaloneELFConfig = StandaloneELFConfig{
		BaseAddress:      DefaultBaseAddress,
		SegmentAlignment: 0x1000,
		SegmentFlags:     elf.PF_R | elf.PF_X,
	}
)

// StandaloneELFConfig controls how StandaloneELFWithConfig emits the final
// executable.
type StandaloneELFConfig struct {
	// BaseAddress is the virtual address the file image is mapped at. The code
	// follows the headers, so it loads at BaseAddress+HeaderSize, which is
	// also the entry point.
	BaseAddress uint64
	// SegmentAlignment is the p_align value of the loadable segment.
	// BaseAddress must be a multiple of it.
	SegmentAlignment uint64
	// SegmentFlags controls the permission bits on the loadable segment.
	SegmentFlags elf.ProgFlag
}

// DefaultStandaloneELFConfig returns the configuration used by StandaloneELF
// when no overrides are provided.
func DefaultStandaloneELFConfig() StandaloneELFConfig {
	return defaultStandaloneELFConfig
}

// EntryPoint returns the virtual address of the first code byte.
func (cfg StandaloneELFConfig) EntryPoint() uint64 {
	return cfg.withDefaults().BaseAddress + HeaderSize
}

// StandaloneELF emits the program as a standalone ELF binary using the default
// configuration.
func StandaloneELF(p asm.Program) ([]byte, error) {
	return StandaloneELFWithConfig(p, DefaultStandaloneELFConfig())
}

// StandaloneELFWithConfig emits the program as a standalone ELF binary. The
// image is the file header, one PT_LOAD program header and the raw code, with
// no padding, sections or symbols. Zero-valued configuration fields are
// replaced with defaults.
func StandaloneELFWithConfig(p asm.Program, cfg StandaloneELFConfig) ([]byte, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	code := p.Bytes()
	codeSize := uint64(len(code))

	out := make([]byte, HeaderSize, HeaderSize+len(code))
	fillELFHeader(out[:elfHeaderSize], cfg)
	fillProgramHeader(out[elfHeaderSize:HeaderSize], cfg, codeSize)

	out = append(out, code...)
	return out, nil
}

// EmitStandaloneELF emits the provided fragment as a standalone ELF binary
// using the default configuration.
func EmitStandaloneELF(f asm.Fragment) ([]byte, error) {
	prog, err := EmitProgram(f)
	if err != nil {
		return nil, err
	}
	return StandaloneELF(prog)
}

func (cfg StandaloneELFConfig) withDefaults() StandaloneELFConfig {
	defaults := DefaultStandaloneELFConfig()
	if cfg.BaseAddress == 0 {
		cfg.BaseAddress = defaults.BaseAddress
	}
	if cfg.SegmentAlignment == 0 {
		cfg.SegmentAlignment = defaults.SegmentAlignment
	}
	if cfg.SegmentFlags == 0 {
		cfg.SegmentFlags = defaults.SegmentFlags
	}
	return cfg
}

func (cfg StandaloneELFConfig) validate() error {
	if cfg.SegmentAlignment&(cfg.SegmentAlignment-1) != 0 {
		return fmt.Errorf("segment alignment %#x is not a power of two", cfg.SegmentAlignment)
	}
	if cfg.BaseAddress%cfg.SegmentAlignment != 0 {
		return fmt.Errorf("base address %#x must be aligned to %#x", cfg.BaseAddress, cfg.SegmentAlignment)
	}
	if cfg.BaseAddress > 1<<47-HeaderSize {
		return fmt.Errorf("base address %#x outside the user address space", cfg.BaseAddress)
	}
	return nil
}

func fillELFHeader(buf []byte, cfg StandaloneELFConfig) {
	for idx := range buf {
		buf[idx] = 0
	}
	copy(buf, elf.ELFMAG)
	buf[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	buf[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	buf[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	buf[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	binary.LittleEndian.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(buf[18:], uint16(elf.EM_X86_64))
	binary.LittleEndian.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint64(buf[24:], cfg.BaseAddress+HeaderSize)
	binary.LittleEndian.PutUint64(buf[32:], uint64(elfHeaderSize))
	binary.LittleEndian.PutUint64(buf[40:], 0) // section header offset
	binary.LittleEndian.PutUint32(buf[48:], 0) // flags
	binary.LittleEndian.PutUint16(buf[52:], uint16(elfHeaderSize))
	binary.LittleEndian.PutUint16(buf[54:], uint16(elfProgramHeaderSize))
	binary.LittleEndian.PutUint16(buf[56:], 1) // one program header
	// Section header fields remain zero as no section table is emitted.
}

func fillProgramHeader(buf []byte, cfg StandaloneELFConfig, codeSize uint64) {
	for idx := range buf {
		buf[idx] = 0
	}
	vaddr := cfg.BaseAddress + HeaderSize
	binary.LittleEndian.PutUint32(buf[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(buf[4:], uint32(cfg.SegmentFlags))
	binary.LittleEndian.PutUint64(buf[8:], HeaderSize)
	binary.LittleEndian.PutUint64(buf[16:], vaddr)
	binary.LittleEndian.PutUint64(buf[24:], vaddr)
	binary.LittleEndian.PutUint64(buf[32:], codeSize)
	binary.LittleEndian.PutUint64(buf[40:], codeSize)
	binary.LittleEndian.PutUint64(buf[48:], cfg.SegmentAlignment)
}

func init() {
	if err := defaultStandaloneELFConfig.validate(); err != nil {
		panic(err)
	}
}

// Package config loads the optional bfc.yaml file that supplies defaults for
// the compiler flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

const (
	// Filename is the config file picked up from the working directory
	// when no -config flag is given.
	Filename = "bfc.yaml"

	// CurrentVersion is written into new files. Any v1.x version loads.
	CurrentVersion = "v1.0.0"
)

type Config struct {
	Version     string `yaml:"version"`
	TapeSize    string `yaml:"tapeSize,omitempty"`
	BaseAddress uint64 `yaml:"baseAddress,omitempty"`
	MaxCodeSize string `yaml:"maxCodeSize,omitempty"`
	Output      string `yaml:"output,omitempty"`
}

func (c *Config) normalize() {
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	if !strings.HasPrefix(c.Version, "v") {
		c.Version = "v" + c.Version
	}
}

// Validate checks the schema version and that size fields parse.
func (c Config) Validate() error {
	if !semver.IsValid(c.Version) {
		return fmt.Errorf("invalid version %q", c.Version)
	}
	if major := semver.Major(c.Version); major != semver.Major(CurrentVersion) {
		return fmt.Errorf("unsupported config version %s (want %s.x)", c.Version, semver.Major(CurrentVersion))
	}
	if _, err := c.TapeBytes(); err != nil {
		return err
	}
	if _, err := c.MaxCodeBytes(); err != nil {
		return err
	}
	return nil
}

// TapeBytes returns the configured tape size, or zero when unset.
func (c Config) TapeBytes() (int, error) {
	if c.TapeSize == "" {
		return 0, nil
	}
	n, err := ParseSize(c.TapeSize)
	if err != nil {
		return 0, fmt.Errorf("tapeSize: %w", err)
	}
	return n, nil
}

// MaxCodeBytes returns the configured code size limit, or zero when unset.
func (c Config) MaxCodeBytes() (int, error) {
	if c.MaxCodeSize == "" {
		return 0, nil
	}
	n, err := ParseSize(c.MaxCodeSize)
	if err != nil {
		return 0, fmt.Errorf("maxCodeSize: %w", err)
	}
	return n, nil
}

// Parse decodes a config document. Unknown keys are rejected and an empty
// document yields the defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Find returns the path of Filename inside dir, or "" when dir has none.
func Find(dir string) (string, error) {
	path := filepath.Join(dir, Filename)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", err
	case info.IsDir():
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

// Write stores cfg as YAML at path, replacing any existing file.
func Write(path string, cfg Config) error {
	cfg.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return f.Close()
}

// ParseSize accepts a plain byte count or a human readable size such as
// "4k" or "64KiB". Suffixes are binary multiples.
func ParseSize(s string) (int, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 || int64(int(n)) != n {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return int(n), nil
}

// FormatSize renders n with a binary suffix for log output.
func FormatSize(n int) string {
	return units.BytesSize(float64(n))
}

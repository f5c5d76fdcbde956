// Package config loads engine settings from TOML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"

	"nanojit/internal/trace"
)

// Config is the on-disk engine configuration.
type Config struct {
	Memory   MemoryConfig   `toml:"memory"`
	Lazy     LazyConfig     `toml:"lazy"`
	Machine  MachineConfig  `toml:"machine"`
	Trace    TraceConfig    `toml:"trace"`
	Prefetch PrefetchConfig `toml:"prefetch"`
}

type MemoryConfig struct {
	// Provider is "mmap" or "heap".
	Provider string `toml:"provider"`
	// Limit caps executable memory, e.g. "64MiB". Empty or "0" is unlimited.
	Limit string `toml:"limit"`
}

type LazyConfig struct {
	// StubPage is the number of stubs written to one code page; 0 keeps a
	// module's stubs together.
	StubPage int `toml:"stub_page"`
}

type MachineConfig struct {
	MaxDepth int `toml:"max_depth"`
}

type TraceConfig struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
	Format string `toml:"format"`
	// Mode is "stream", "ring" or "both". The ring keeps the last RingSize
	// events and is dumped to stderr when the engine fails fatally.
	Mode     string `toml:"mode"`
	RingSize int    `toml:"ring_size"`
}

type PrefetchConfig struct {
	// Jobs bounds parallel compilations in Prefetch; 0 uses GOMAXPROCS.
	Jobs int `toml:"jobs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Memory:  MemoryConfig{Provider: "mmap"},
		Machine: MachineConfig{MaxDepth: 1024},
		Trace:   TraceConfig{Level: "off", Output: "-", Format: "auto", Mode: "stream"},
	}
}

// LoadFile reads path over Default and validates the result.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load reads path when it exists and falls back to Default otherwise.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}
	return LoadFile(path)
}

// Validate checks every field.
func (c Config) Validate() error {
	switch strings.ToLower(c.Memory.Provider) {
	case "", "mmap", "heap":
	default:
		return fmt.Errorf("memory.provider: %q (expected: mmap|heap)", c.Memory.Provider)
	}
	if _, err := c.MemoryLimit(); err != nil {
		return err
	}
	if c.Lazy.StubPage < 0 {
		return fmt.Errorf("lazy.stub_page: %d is negative", c.Lazy.StubPage)
	}
	if c.Machine.MaxDepth < 0 {
		return fmt.Errorf("machine.max_depth: %d is negative", c.Machine.MaxDepth)
	}
	if c.Prefetch.Jobs < 0 {
		return fmt.Errorf("prefetch.jobs: %d is negative", c.Prefetch.Jobs)
	}
	if _, err := c.TraceSettings(); err != nil {
		return err
	}
	return nil
}

// MemoryLimit returns memory.limit in bytes.
func (c Config) MemoryLimit() (int64, error) {
	s := strings.TrimSpace(c.Memory.Limit)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("memory.limit: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("memory.limit: %q is negative", s)
	}
	return n, nil
}

// TraceSettings converts the trace section.
func (c Config) TraceSettings() (trace.Config, error) {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return trace.Config{}, fmt.Errorf("trace.level: %w", err)
	}
	format, err := trace.ParseFormat(c.Trace.Format)
	if err != nil {
		return trace.Config{}, fmt.Errorf("trace.format: %w", err)
	}
	mode := trace.ModeStream
	if c.Trace.Mode != "" {
		if mode, err = trace.ParseMode(c.Trace.Mode); err != nil {
			return trace.Config{}, fmt.Errorf("trace.mode: %w", err)
		}
	}
	if c.Trace.RingSize < 0 {
		return trace.Config{}, fmt.Errorf("trace.ring_size: %d is negative", c.Trace.RingSize)
	}
	return trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: c.Trace.Output,
		RingSize:   c.Trace.RingSize,
	}, nil
}

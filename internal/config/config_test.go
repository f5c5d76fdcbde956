package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nanojit/internal/trace"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nanojit.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[memory]
provider = "heap"
limit = "64MiB"

[lazy]
stub_page = 128

[trace]
level = "detail"
output = "trace.ndjson"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Memory.Provider != "heap" || cfg.Lazy.StubPage != 128 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Machine.MaxDepth != Default().Machine.MaxDepth {
		t.Fatalf("unset key lost its default: %d", cfg.Machine.MaxDepth)
	}
	limit, err := cfg.MemoryLimit()
	if err != nil || limit != 64<<20 {
		t.Fatalf("MemoryLimit = %d, %v", limit, err)
	}
	tc, err := cfg.TraceSettings()
	if err != nil {
		t.Fatal(err)
	}
	if tc.Level != trace.LevelDetail || tc.OutputPath != "trace.ndjson" || tc.Format != trace.FormatAuto {
		t.Fatalf("trace settings = %+v", tc)
	}
}

func TestTraceRingSettings(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "[trace]\nlevel = \"phase\"\nmode = \"Both\"\nring_size = 256\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	tc, err := cfg.TraceSettings()
	if err != nil {
		t.Fatal(err)
	}
	if tc.Mode != trace.ModeBoth || tc.RingSize != 256 {
		t.Fatalf("trace settings = %+v", tc)
	}
	if tc, _ := Default().TraceSettings(); tc.Mode != trace.ModeStream {
		t.Fatalf("default mode = %v", tc.Mode)
	}
}

func TestLoadFileRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", "[memory\n", "failed to parse TOML"},
		{"unknown key", "[memory]\nsize = 1\n", "unknown keys: memory.size"},
		{"provider", "[memory]\nprovider = \"disk\"\n", "memory.provider"},
		{"limit", "[memory]\nlimit = \"lots\"\n", "memory.limit"},
		{"depth", "[machine]\nmax_depth = -1\n", "machine.max_depth"},
		{"jobs", "[prefetch]\njobs = -2\n", "prefetch.jobs"},
		{"level", "[trace]\nlevel = \"loud\"\n", "trace.level"},
		{"format", "[trace]\nformat = \"xml\"\n", "trace.format"},
		{"mode", "[trace]\nmode = \"disk\"\n", "trace.mode"},
		{"ring size", "[trace]\nring_size = -1\n", "trace.ring_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestStyled(t *testing.T) {
	saved, savedNoColor := Version, color.NoColor
	t.Cleanup(func() { Version, color.NoColor = saved, savedNoColor })
	color.NoColor = true

	tests := []struct {
		version string
		want    string
	}{
		{"0.1.0-dev", "0.1.0-dev"},
		{"1.2.3", "1.2.3"},
		{"nightly", "nightly"},
	}
	for _, tt := range tests {
		Version = tt.version
		if got := Styled(); got != tt.want {
			t.Fatalf("Styled(%q) = %q, want %q", tt.version, got, tt.want)
		}
	}
}

func TestStyledColors(t *testing.T) {
	saved, savedNoColor := Version, color.NoColor
	t.Cleanup(func() { Version, color.NoColor = saved, savedNoColor })
	color.NoColor = false
	Version = "1.2.3"
	if got := Styled(); got == "1.2.3" {
		t.Fatalf("Styled did not color %q", got)
	}
}

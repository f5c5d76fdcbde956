package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeEngine, false},
		{LevelError, ScopeEngine, true},
		{LevelError, ScopeModule, false},
		{LevelPhase, ScopeModule, true},
		{LevelPhase, ScopeSymbol, false},
		{LevelDetail, ScopeSymbol, true},
		{LevelDetail, ScopeCode, false},
		{LevelDebug, ScopeCode, true},
	}
	for _, tt := range tests {
		if got := tt.level.ShouldEmit(tt.scope); got != tt.want {
			t.Errorf("%s.ShouldEmit(%s) = %v, want %v", tt.level, tt.scope, got, tt.want)
		}
	}
}

func TestStreamSpanText(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDetail, FormatText)
	span := Begin(tr, ScopeSymbol, "materialize", 0)
	span.WithExtra("symbol", "f").WithExtra("bytes", "64")
	span.End("ok")
	Begin(tr, ScopeCode, "relocate", span.ID()).End("") // filtered

	out := buf.String()
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("want 2 lines, got:\n%s", out)
	}
	if !strings.Contains(out, "materialize (ok) {bytes=64, symbol=f}") {
		t.Fatalf("unexpected end line:\n%s", out)
	}
}

func TestStreamNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDebug, FormatNDJSON)
	Point(tr, ScopeEngine, "fatal", "boom")
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if got["name"] != "fatal" || got["scope"] != "engine" || got["detail"] != "boom" {
		t.Fatalf("unexpected event %v", got)
	}
}

func TestRingWraps(t *testing.T) {
	r := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d"} {
		Point(r, ScopeCode, name, "")
	}
	snap := r.Snapshot()
	if len(snap) != 3 || snap[0].Name != "b" || snap[2].Name != "d" {
		t.Fatalf("snapshot = %v", snap)
	}
}

func TestContextPropagation(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatalf("empty context must yield Nop")
	}
	r := NewRingTracer(8, LevelDebug)
	ctx := WithTracer(context.Background(), r)
	span := Begin(FromContext(ctx), ScopeModule, "addModule", 0)
	ctx = WithSpan(ctx, span)
	if CurrentSpan(ctx) != span.ID() || span.ID() == 0 {
		t.Fatalf("CurrentSpan = %d, want %d", CurrentSpan(ctx), span.ID())
	}
}

func TestDisabledSpanIsNop(t *testing.T) {
	span := Begin(Nop, ScopeEngine, "x", 0)
	if span.ID() != 0 || span.End("") != 0 {
		t.Fatalf("disabled span must be inert")
	}
}

func TestNewModes(t *testing.T) {
	var buf bytes.Buffer
	tests := []struct {
		mode string
		want string
	}{
		{"stream", "*trace.StreamTracer"},
		{"RING", "*trace.RingTracer"},
		{"both", "*trace.MultiTracer"},
	}
	for _, tt := range tests {
		m, err := ParseMode(tt.mode)
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", tt.mode, err)
		}
		tr, err := New(Config{Level: LevelPhase, Mode: m, Output: &buf})
		if err != nil {
			t.Fatalf("New(%s): %v", m, err)
		}
		if got := fmt.Sprintf("%T", tr); got != tt.want {
			t.Fatalf("New(%s) = %s, want %s", m, got, tt.want)
		}
	}
	if _, err := ParseMode("file"); err == nil {
		t.Fatalf("ParseMode accepted an unknown mode")
	}
	if tr, err := New(Config{Level: LevelOff}); err != nil || tr != Nop {
		t.Fatalf("New(off) = %v, %v; want Nop", tr, err)
	}
	if formatFor("out.ndjson") != FormatNDJSON || formatFor("-") != FormatText {
		t.Fatalf("auto format picked the wrong encoding")
	}
}

func TestDumpRecentBothMode(t *testing.T) {
	var stream, dump bytes.Buffer
	tr, err := New(Config{Level: LevelPhase, Mode: ModeBoth, Output: &stream, RingSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"first", "second", "third"} {
		Point(tr, ScopeModule, name, "")
	}
	if err := DumpRecent(tr, &dump); err != nil {
		t.Fatal(err)
	}
	if got := dump.String(); strings.Contains(got, "first") || !strings.Contains(got, "second") || !strings.Contains(got, "third") {
		t.Fatalf("dump kept the wrong window:\n%s", got)
	}
	if !strings.Contains(stream.String(), "first") {
		t.Fatalf("stream lost an event:\n%s", stream.String())
	}
	dump.Reset()
	if err := DumpRecent(NewStreamTracer(&stream, LevelPhase, FormatText), &dump); err != nil || dump.Len() != 0 {
		t.Fatalf("stream tracer dumped %q, %v", dump.String(), err)
	}
}

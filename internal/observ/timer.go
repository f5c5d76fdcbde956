// Package observ measures where materialization time goes. A Timer covers
// one partition; a Recorder folds finished timers into per-phase totals.
package observ

import "time"

// Phase is one measured step. Note names the object of the step, usually a
// partition or symbol list.
type Phase struct {
	Name  string
	Note  string
	Start time.Time
	Dur   time.Duration
}

// Timer is not safe for concurrent use.
type Timer struct {
	phases []Phase
}

func NewTimer() *Timer { return &Timer{phases: make([]Phase, 0, 2)} }

// Begin opens a phase; pass the returned index to End.
func (t *Timer) Begin(name string) int {
	t.phases = append(t.phases, Phase{Name: name, Start: time.Now()})
	return len(t.phases) - 1
}

// End closes phase idx. Unknown indexes are ignored.
func (t *Timer) End(idx int, note string) {
	if idx < 0 || idx >= len(t.phases) {
		return
	}
	t.phases[idx].Dur = time.Since(t.phases[idx].Start)
	t.phases[idx].Note = note
}

// Phases returns the recorded phases in order.
func (t *Timer) Phases() []Phase { return t.phases }

// PhaseReport is the serializable summary of one phase name.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Count      int     `json:"count,omitempty"`
	// Note is the note of the slowest occurrence.
	Note string `json:"note,omitempty"`
}

// Report lists phases in first-seen order.
type Report struct {
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

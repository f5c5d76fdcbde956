package observ

import (
	"sync"
	"time"
)

// Recorder sums finished timers by phase name. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	order  []string
	totals map[string]*phaseTotal
}

type phaseTotal struct {
	dur     time.Duration
	count   int
	slowest Phase
}

func NewRecorder() *Recorder {
	return &Recorder{totals: make(map[string]*phaseTotal, 2)}
}

// Add folds the phases of t into the totals.
func (r *Recorder) Add(t *Timer) {
	if r == nil || t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range t.phases {
		tot := r.totals[p.Name]
		if tot == nil {
			tot = &phaseTotal{}
			r.totals[p.Name] = tot
			r.order = append(r.order, p.Name)
		}
		tot.dur += p.Dur
		tot.count++
		if tot.count == 1 || p.Dur > tot.slowest.Dur {
			tot.slowest = p
		}
	}
}

// Report returns the totals in first-seen phase order.
func (r *Recorder) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return Report{}
	}
	rep := Report{Phases: make([]PhaseReport, 0, len(r.order))}
	var total time.Duration
	for _, name := range r.order {
		tot := r.totals[name]
		total += tot.dur
		rep.Phases = append(rep.Phases, PhaseReport{
			Name:       name,
			DurationMS: millis(tot.dur),
			Count:      tot.count,
			Note:       tot.slowest.Note,
		})
	}
	rep.TotalMS = millis(total)
	return rep
}

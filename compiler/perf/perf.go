// Package perf collects cumulative wall time per named code region.
package perf

import (
	"sort"
	"sync"
	"time"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"
)

type (
	Counters struct {
		mu sync.Mutex
		m  map[string]*Counter
	}

	Counter struct {
		Name  string
		Calls int
		Total time.Duration
	}

	// Timer is a running measurement. Stop it exactly once, usually with defer.
	Timer struct {
		cs    *Counters
		name  string
		start time.Time
	}
)

func New() *Counters {
	return &Counters{m: make(map[string]*Counter)}
}

// Start begins timing the region name.
// Empty name means the calling function.
// Nil Counters are allowed and measure nothing.
func (cs *Counters) Start(name string) Timer {
	if cs == nil {
		return Timer{}
	}

	if name == "" {
		name, _, _ = loc.Caller(1).NameFileLine()
	}

	return Timer{cs: cs, name: name, start: time.Now()}
}

func (t Timer) Stop() {
	if t.cs == nil {
		return
	}

	d := time.Since(t.start)

	defer t.cs.mu.Unlock()
	t.cs.mu.Lock()

	c := t.cs.m[t.name]
	if c == nil {
		c = &Counter{Name: t.name}
		t.cs.m[t.name] = c
	}

	c.Calls++
	c.Total += d
}

// Get returns a copy of the counter for name.
func (cs *Counters) Get(name string) (Counter, bool) {
	defer cs.mu.Unlock()
	cs.mu.Lock()

	c, ok := cs.m[name]
	if !ok {
		return Counter{}, false
	}

	return *c, true
}

// Snapshot returns all counters sorted by name.
func (cs *Counters) Snapshot() []Counter {
	if cs == nil {
		return nil
	}

	cs.mu.Lock()

	l := make([]Counter, 0, len(cs.m))
	for _, c := range cs.m {
		l = append(l, *c)
	}

	cs.mu.Unlock()

	sort.Slice(l, func(i, j int) bool { return l[i].Name < l[j].Name })

	return l
}

// Log prints all counters to tr.
func (cs *Counters) Log(tr tlog.Span) {
	for _, c := range cs.Snapshot() {
		tr.Printw("perf counter", "name", c.Name, "calls", c.Calls, "total", c.Total)
	}
}

package hold

import (
	"sync"
	"time"
)

// Progress describes how far a running hold has advanced.
type Progress struct {
	Elapsed   time.Duration
	Remaining time.Duration
	// Percent is in [0, 100].
	Percent float64
}

// Callbacks are invoked from the timer goroutine, never under the timer lock.
// Any of them may be nil.
type Callbacks struct {
	OnTick     func(Progress)
	OnComplete func()
	OnCancel   func()
}

// Timer is a cancellable countdown with periodic progress ticks.
//
// Each Start or Reset opens a new generation. A completion is delivered only
// if its generation is still current when the deadline fires, so a Cancel
// that wins the race suppresses OnComplete and vice versa.
type Timer struct {
	duration time.Duration
	tick     time.Duration
	cb       Callbacks

	mu       sync.Mutex
	gen      uint64
	running  bool
	started  time.Time
	deadline time.Time
	stop     chan struct{}
}

// New creates an idle timer. A zero tick disables progress callbacks.
func New(duration, tick time.Duration, cb Callbacks) *Timer {
	return &Timer{
		duration: duration,
		tick:     tick,
		cb:       cb,
	}
}

// Start begins a countdown. It returns false if one is already running.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return false
	}

	t.running = true
	t.launch()

	return true
}

// Cancel stops a running countdown and fires OnCancel.
// It returns false if nothing was running.
func (t *Timer) Cancel() bool {
	t.mu.Lock()

	if !t.running {
		t.mu.Unlock()
		return false
	}

	t.running = false
	t.gen++
	close(t.stop)
	t.mu.Unlock()

	if t.cb.OnCancel != nil {
		t.cb.OnCancel()
	}

	return true
}

// Reset restarts a running countdown from zero with the full duration.
// No cancel callback is fired. It returns false if nothing was running.
func (t *Timer) Reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return false
	}

	close(t.stop)
	t.launch()

	return true
}

// Running reports whether a countdown is in progress.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.running
}

// Deadline returns the completion time of the running countdown.
func (t *Timer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.deadline, t.running
}

// Progress returns the current progress of the running countdown.
func (t *Timer) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return Progress{}
	}

	return t.progressAt(time.Now())
}

// launch must be called with t.mu held.
func (t *Timer) launch() {
	t.gen++
	t.started = time.Now()
	t.deadline = t.started.Add(t.duration)
	t.stop = make(chan struct{})

	go t.run(t.gen, t.stop, t.duration)
}

func (t *Timer) run(gen uint64, stop <-chan struct{}, d time.Duration) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	var ticks <-chan time.Time

	if t.tick > 0 && t.cb.OnTick != nil {
		ticker := time.NewTicker(t.tick)
		defer ticker.Stop()

		ticks = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case now := <-ticks:
			p, ok := t.snapshot(gen, now)
			if !ok {
				return
			}

			t.cb.OnTick(p)
		case <-deadline.C:
			if !t.complete(gen) {
				return
			}

			if ticks != nil {
				t.cb.OnTick(Progress{Elapsed: d, Percent: 100})
			}

			if t.cb.OnComplete != nil {
				t.cb.OnComplete()
			}

			return
		}
	}
}

func (t *Timer) snapshot(gen uint64, now time.Time) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.gen != gen {
		return Progress{}, false
	}

	return t.progressAt(now), true
}

func (t *Timer) complete(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.gen != gen {
		return false
	}

	t.running = false
	t.gen++

	return true
}

func (t *Timer) progressAt(now time.Time) Progress {
	elapsed := min(max(now.Sub(t.started), 0), t.duration)

	p := Progress{
		Elapsed:   elapsed,
		Remaining: t.duration - elapsed,
		Percent:   100,
	}

	if t.duration > 0 {
		p.Percent = float64(elapsed) / float64(t.duration) * 100
	}

	return p
}

package chat

import (
	"sync"
	"time"
)

// typist debounces typing pulses: the first pulse of a burst asks for typing=true and the
// idle timer, restarted by every pulse, asks for typing=false. Writes run on one goroutine in
// decision order; if several decisions queue up only the latest is written.
type typist struct {
	idle       time.Duration
	now        func() time.Time
	write      func(typing bool)
	onDeadline func(deadline *time.Time)

	mu      sync.Mutex
	typing  bool
	gen     uint64
	timer   *time.Timer
	stopped bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newTypist(idle time.Duration, now func() time.Time, write func(bool), onDeadline func(*time.Time)) *typist {
	t := &typist{
		idle:       idle,
		now:        now,
		write:      write,
		onDeadline: onDeadline,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *typist) run() {
	defer t.wg.Done()
	var written *bool
	for {
		select {
		case <-t.done:
			return
		case <-t.wake:
		}

		t.mu.Lock()
		want := t.typing
		t.mu.Unlock()

		if written == nil || *written != want {
			t.write(want)
			written = &want
		}
	}
}

func (t *typist) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Pulse records one keystroke.
func (t *typist) Pulse() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	started := !t.typing
	t.typing = true
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, func() { t.expire(gen) })
	deadline := t.now().Add(t.idle)
	t.mu.Unlock()

	if started {
		t.signal()
	}
	t.onDeadline(&deadline)
}

func (t *typist) expire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen || !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	t.timer = nil
	t.mu.Unlock()

	t.signal()
	t.onDeadline(nil)
}

// Clear ends the current burst immediately, e.g. once a message went out.
func (t *typist) Clear() {
	t.mu.Lock()
	if t.stopped || !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.signal()
	t.onDeadline(nil)
}

// Stop cancels the timer and the writer. Pending decisions are dropped.
func (t *typist) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()
}

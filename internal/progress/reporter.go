package progress

import (
	"context"
	"log"
	"sync"
	"time"
)

type Event struct {
	// Force marks stage changes. Forced events are always delivered;
	// the others are coalesced and throttled.
	Force bool

	Stage string
	Index int
	Count int
	Name  string

	Current int64
	Total   int64
	Elapsed time.Duration
}

type RenderFunc func(Event) string

type SinkFunc func(ctx context.Context, text string) error

// Reporter turns progress events into status message edits on its own
// goroutine. Publishing never blocks and a failing render or sink is logged
// and dropped, so the transfer that produces events cannot be stalled or
// aborted by it.
type Reporter struct {
	ctx      context.Context
	render   RenderFunc
	sink     SinkFunc
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending []Event
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	lastText string
	lastSent time.Time
}

func NewReporter(ctx context.Context, render RenderFunc, sink SinkFunc, interval time.Duration) *Reporter {
	r := &Reporter{
		ctx:      ctx,
		render:   render,
		sink:     sink,
		interval: interval,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Reporter) Publish(ev Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	n := len(r.pending)
	if !ev.Force && n > 0 && !r.pending[n-1].Force {
		r.pending[n-1] = ev
	} else {
		r.pending = append(r.pending, ev)
	}
	r.mu.Unlock()
	r.signal()
}

// Close delivers what is still pending and stops the reporter.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.signal()
	<-r.done
}

func (r *Reporter) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reporter) loop() {
	defer close(r.done)
	for range r.wake {
		r.mu.Lock()
		batch := r.pending
		r.pending = nil
		closed := r.closed
		r.mu.Unlock()

		for _, ev := range batch {
			r.emit(ev)
		}
		if closed {
			r.mu.Lock()
			empty := len(r.pending) == 0
			r.mu.Unlock()
			if empty {
				return
			}
			r.signal()
		}
	}
}

func (r *Reporter) emit(ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Progress render panic (stage=%s): %v", ev.Stage, rec)
		}
	}()

	now := r.now()
	if !ev.Force && !r.lastSent.IsZero() && now.Sub(r.lastSent) < r.interval {
		return
	}

	text := r.render(ev)
	if text == "" || text == r.lastText {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
	defer cancel()
	if err := r.sink(ctx, text); err != nil {
		log.Printf("Progress update failed (stage=%s): %v", ev.Stage, err)
		return
	}
	r.lastText = text
	r.lastSent = now
}

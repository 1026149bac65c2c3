// Package eventloop implements the single-threaded cooperative
// scheduler described by spec.md's concurrency model: one dedicated
// goroutine drains a bounded FIFO of typed events (socket completions,
// timer firings, application-submitted work) and serializes every state
// transition. Producers never touch shared state directly; they only
// ever post an event.
package eventloop

import (
	"sync"
	"time"

	"github.com/systerel/s2opc-go/pkg/transport"
)

// Kind discriminates the three event sources the loop serializes.
type Kind int

const (
	KindSocket Kind = iota
	KindTimer
	KindApp
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "Socket"
	case KindTimer:
		return "Timer"
	case KindApp:
		return "App"
	default:
		return "Unknown"
	}
}

// Event is the sum type every producer posts; only the field matching
// Kind is populated.
type Event struct {
	Kind    Kind
	Socket  transport.Event
	TimerID uint64
	App     func()
}

// Config configures a Loop.
type Config struct {
	// QueueSize bounds the event FIFO; default 256.
	QueueSize int
	// Handler processes each event on the loop's own goroutine.
	// Required.
	Handler func(Event)
}

// Loop drains a bounded queue of typed events on one dedicated
// goroutine, grounded on the teacher's single-consumer dispatch shape
// (exchange.Manager's map-guarded-by-one-mutex pattern), generalized
// here into an explicit typed-event queue so timers and socket
// callbacks never touch state off-loop.
type Loop struct {
	events  chan Event
	handler func(Event)

	mu          sync.Mutex
	timers      map[uint64]*time.Timer
	nextTimerID uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Loop. Call Run on the goroutine meant to own it.
func New(cfg Config) *Loop {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Loop{
		events:  make(chan Event, cfg.QueueSize),
		handler: cfg.Handler,
		timers:  make(map[uint64]*time.Timer),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Run drains events until RequestStop is called, then returns. Intended
// to be the body of the loop's single dedicated goroutine.
func (l *Loop) Run() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		case ev := <-l.events:
			l.handler(ev)
		}
	}
}

// PostSocketEvent enqueues a socket completion. Safe from any goroutine
// (a Socket implementation's own accept/read loops).
func (l *Loop) PostSocketEvent(e transport.Event) {
	l.post(Event{Kind: KindSocket, Socket: e})
}

// PostApp enqueues application-submitted work to run on the loop's
// goroutine.
func (l *Loop) PostApp(fn func()) {
	l.post(Event{Kind: KindApp, App: fn})
}

func (l *Loop) post(e Event) {
	select {
	case l.events <- e:
	case <-l.stopCh:
	}
}

// AfterFunc schedules a KindTimer event carrying a fresh id after d;
// the timer callback only ever posts into the queue, never calls the
// handler directly. Returns an id usable with CancelTimer.
func (l *Loop) AfterFunc(d time.Duration) uint64 {
	l.mu.Lock()
	id := l.nextTimerID
	l.nextTimerID++
	t := time.AfterFunc(d, func() {
		l.post(Event{Kind: KindTimer, TimerID: id})
	})
	l.timers[id] = t
	l.mu.Unlock()
	return id
}

// CancelTimer stops a pending timer; a no-op if it already fired or was
// already canceled.
func (l *Loop) CancelTimer(id uint64) {
	l.mu.Lock()
	t, ok := l.timers[id]
	if ok {
		delete(l.timers, id)
	}
	l.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// RequestStop asks Run to exit after the event currently being
// processed (a bounded grace period: events already queued are not
// guaranteed to run). Safe to call from the loop's own goroutine
// (inside Handler) or any other; does not block.
func (l *Loop) RequestStop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Wait blocks until Run has returned. Must not be called from the
// loop's own goroutine (it would deadlock waiting on itself); call it
// from the owner that launched Run.
func (l *Loop) Wait() {
	<-l.doneCh
}

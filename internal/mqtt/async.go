package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/farm-controller/internal/logging"
	"github.com/sweeney/farm-controller/internal/logic"
	"github.com/sweeney/farm-controller/internal/ringbuf"
)

// Defaults used when AsyncConfig leaves them zero.
const (
	DefaultEventQueue = 32
	DefaultRetry      = 2 * time.Second
)

// AsyncConfig sizes an Async publisher.
type AsyncConfig struct {
	Events int           // system events queued before the oldest are dropped
	Retry  time.Duration // delay before a failed publish is tried again
}

// Async moves publishing off the caller's goroutine. The states document is
// latest-wins: a newer document replaces one that has not gone out yet.
// System events are queued in order. Queue methods never block on the broker.
type Async struct {
	pub   Publisher
	retry time.Duration
	log   zerolog.Logger

	mu     sync.Mutex
	states map[logic.Actuator]logic.ActuatorState
	events *ringbuf.Ring[SystemEvent]
	failed bool

	// held by whichever goroutine is currently publishing
	sendMu sync.Mutex
	notify chan struct{}
}

// NewAsync wraps pub. Call Run to start delivering.
func NewAsync(pub Publisher, cfg AsyncConfig) *Async {
	if cfg.Events <= 0 {
		cfg.Events = DefaultEventQueue
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRetry
	}
	return &Async{
		pub:    pub,
		retry:  cfg.Retry,
		log:    logging.WithComponent("publish"),
		events: ringbuf.New[SystemEvent](cfg.Events),
		notify: make(chan struct{}, 1),
	}
}

// QueueStates replaces any unsent states document with a copy of states.
func (a *Async) QueueStates(states map[logic.Actuator]logic.ActuatorState) {
	cp := make(map[logic.Actuator]logic.ActuatorState, len(states))
	for k, v := range states {
		cp[k] = v
	}
	a.mu.Lock()
	a.states = cp
	a.mu.Unlock()
	a.wake()
}

// QueueSystem appends a system event, dropping the oldest when full.
func (a *Async) QueueSystem(event SystemEvent) {
	a.mu.Lock()
	if was := a.events.Overflowed(); a.events.Push(event) && !was {
		a.log.Warn().Int("capacity", a.events.Cap()).Msg("event queue full, dropping oldest")
	}
	a.mu.Unlock()
	a.wake()
}

// Pending reports how many publishes are waiting, counting the states
// document as one.
func (a *Async) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.events.Len()
	if a.states != nil {
		n++
	}
	return n
}

func (a *Async) wake() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Run publishes queued messages until ctx is cancelled.
func (a *Async) Run(ctx context.Context) {
	ticker := time.NewTicker(a.retry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.notify:
		case <-ticker.C:
		}
		a.drain()
	}
}

// Flush makes one attempt to publish everything queued, giving up when ctx
// ends. Safe to call while Run is active.
func (a *Async) Flush(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.drain()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn().Int("pending", a.Pending()).Msg("flush timed out")
	}
}

func (a *Async) drain() {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.mu.Lock()
	events := a.events.DrainAll()
	states := a.states
	a.states = nil
	a.mu.Unlock()

	for i, ev := range events {
		if err := a.pub.PublishSystem(ev); err != nil {
			a.fail(err, "publish system event")
			a.mu.Lock()
			rest := a.events.DrainAll()
			for _, e := range events[i:] {
				a.events.Push(e)
			}
			for _, e := range rest {
				a.events.Push(e)
			}
			if states != nil && a.states == nil {
				a.states = states
			}
			a.mu.Unlock()
			return
		}
	}
	if states == nil {
		a.recovered()
		return
	}
	if err := a.pub.PublishStates(states); err != nil {
		a.fail(err, "publish actuator states")
		a.mu.Lock()
		if a.states == nil {
			a.states = states
		}
		a.mu.Unlock()
		return
	}
	a.recovered()
}

func (a *Async) fail(err error, msg string) {
	a.mu.Lock()
	first := !a.failed
	a.failed = true
	a.mu.Unlock()
	ev := a.log.Debug()
	if first {
		ev = a.log.Warn()
	}
	ev.Err(err).Msg(msg)
}

func (a *Async) recovered() {
	a.mu.Lock()
	was := a.failed
	a.failed = false
	a.mu.Unlock()
	if was {
		a.log.Info().Msg("publishing recovered")
	}
}

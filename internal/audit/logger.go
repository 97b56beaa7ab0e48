package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/farm-controller/internal/logging"
	"github.com/sweeney/farm-controller/internal/logic"
	"github.com/sweeney/farm-controller/internal/ringbuf"
)

// Default sizes used when Config leaves them zero.
const (
	DefaultHistory = 200
	DefaultBuffer  = 1000
	DefaultRetry   = 5 * time.Second

	// maxBackoffFactor caps exponential retry at Retry * 2^maxBackoffFactor.
	maxBackoffFactor = 4
)

// Config sizes the logger's buffers.
type Config struct {
	History int           // entries kept for Recent
	Buffer  int           // entries queued per sink before the oldest are dropped
	Retry   time.Duration // base delay before a failed sink is retried
}

func (c Config) withDefaults() Config {
	if c.History <= 0 {
		c.History = DefaultHistory
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.Retry <= 0 {
		c.Retry = DefaultRetry
	}
	return c
}

type sinkState struct {
	sink     Sink
	pending  *ringbuf.Ring[Entry]
	failures int
	retryAt  time.Time
}

// Logger is the audit trail. Append is safe to call from the tick loop; it
// only takes a short lock and never performs I/O.
type Logger struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time
	id  func() string

	mu      sync.Mutex
	history *ringbuf.Ring[Entry]
	queue   *ringbuf.Ring[Entry]
	notify  chan struct{}

	dispatchMu sync.Mutex // serializes Run and Flush
	sinks      []*sinkState
}

// New creates a Logger delivering to sinks.
func New(cfg Config, sinks ...Sink) *Logger {
	cfg = cfg.withDefaults()
	l := &Logger{
		cfg:     cfg,
		log:     logging.WithComponent("audit"),
		now:     time.Now,
		id:      func() string { return uuid.New().String() },
		history: ringbuf.New[Entry](cfg.History),
		queue:   ringbuf.New[Entry](cfg.Buffer),
		notify:  make(chan struct{}, 1),
	}
	for _, s := range sinks {
		l.sinks = append(l.sinks, &sinkState{sink: s, pending: ringbuf.New[Entry](cfg.Buffer)})
	}
	return l
}

// Append records entries in order and schedules them for delivery. It
// returns the stored entries with their IDs.
func (l *Logger) Append(entries ...logic.AuditEntry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	l.mu.Lock()
	for i, e := range entries {
		out[i] = Entry{ID: l.id(), AuditEntry: e}
		l.history.Push(out[i])
		if len(l.sinks) == 0 {
			continue
		}
		if was := l.queue.Overflowed(); l.queue.Push(out[i]) && !was {
			l.log.Warn().Int("capacity", l.queue.Cap()).Msg("audit queue full, dropping oldest")
		}
	}
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return out
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all
// retained history.
func (l *Logger) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history.Newest(limit)
}

// Dropped returns how many entries were discarded before reaching a sink,
// either because the dispatch queue or a sink's retry buffer overflowed.
func (l *Logger) Dropped() int64 {
	l.mu.Lock()
	n := l.queue.Dropped()
	l.mu.Unlock()

	l.dispatchMu.Lock()
	for _, s := range l.sinks {
		n += s.pending.Dropped()
	}
	l.dispatchMu.Unlock()
	return n
}

// Run delivers queued entries until ctx is cancelled. Failed sinks are
// retried with exponential backoff on a timer, so delivery resumes even when
// nothing new is appended.
func (l *Logger) Run(ctx context.Context) {
	if len(l.sinks) == 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(l.cfg.Retry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.notify:
		case <-ticker.C:
		}
		l.dispatch(ctx, false)
	}
}

// Flush makes one delivery attempt to every sink regardless of backoff.
// Used at shutdown after Run has returned.
func (l *Logger) Flush(ctx context.Context) {
	l.dispatch(ctx, true)
}

// Pending returns how many entries are waiting for delivery to the named sink.
func (l *Logger) Pending(name string) int {
	l.mu.Lock()
	queued := l.queue.Len()
	l.mu.Unlock()

	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	for _, s := range l.sinks {
		if s.sink.Name() == name {
			return s.pending.Len() + queued
		}
	}
	return 0
}

func (l *Logger) dispatch(ctx context.Context, force bool) {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()

	l.mu.Lock()
	batch := l.queue.DrainAll()
	l.mu.Unlock()

	now := l.now()
	for _, s := range l.sinks {
		for _, e := range batch {
			if was := s.pending.Overflowed(); s.pending.Push(e) && !was {
				l.log.Warn().Str("sink", s.sink.Name()).Msg("sink buffer full, dropping oldest")
			}
		}
		if s.pending.Len() == 0 {
			continue
		}
		if !force && now.Before(s.retryAt) {
			continue
		}
		l.deliver(ctx, s, now)
	}
}

func (l *Logger) deliver(ctx context.Context, s *sinkState, now time.Time) {
	entries := s.pending.Items()
	if err := s.sink.Write(ctx, entries); err != nil {
		s.failures++
		delay := l.backoff(s.failures)
		s.retryAt = now.Add(delay)
		ev := l.log.Warn()
		if s.failures > 1 {
			ev = l.log.Debug()
		}
		ev.Err(err).Str("sink", s.sink.Name()).Int("pending", len(entries)).
			Int("failures", s.failures).Dur("retry_in", delay).Msg("audit write failed")
		return
	}
	if s.failures > 0 {
		l.log.Info().Str("sink", s.sink.Name()).Int("delivered", len(entries)).Msg("audit sink recovered")
	}
	s.failures = 0
	s.retryAt = time.Time{}
	s.pending.DrainAll()
}

func (l *Logger) backoff(failures int) time.Duration {
	shift := failures - 1
	if shift > maxBackoffFactor {
		shift = maxBackoffFactor
	}
	return l.cfg.Retry << uint(shift)
}

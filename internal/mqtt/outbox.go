package mqtt

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sweeney/farm-controller/internal/ringbuf"
)

// outbox orders publishes across reconnects. While offline, messages are
// buffered and a latest-only message replaces its older copy. Sends are
// serialized, and a publish made while connected first sends whatever is
// still buffered, so a replay can never land after a newer publish.
type outbox struct {
	connected func() bool
	send      func(bufferedMsg) error
	log       zerolog.Logger

	sendMu sync.Mutex

	mu     sync.Mutex
	buf    *ringbuf.Ring[bufferedMsg]
	latest map[string]bufferedMsg
	topics []string // latest-only topics in first-held order
}

func newOutbox(size int, connected func() bool, send func(bufferedMsg) error, log zerolog.Logger) *outbox {
	return &outbox{
		connected: connected,
		send:      send,
		log:       log,
		buf:       ringbuf.New[bufferedMsg](size),
		latest:    make(map[string]bufferedMsg),
	}
}

func (o *outbox) publish(m bufferedMsg) error {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()
	if !o.connected() {
		o.hold(m)
		return nil
	}
	if err := o.flushLocked(); err != nil {
		o.hold(m)
		return nil
	}
	return o.send(m)
}

// replay sends everything held while offline.
func (o *outbox) replay() {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()
	if err := o.flushLocked(); err != nil {
		o.log.Warn().Err(err).Int("held", o.held()).Msg("replay interrupted")
	}
}

func (o *outbox) held() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Len() + len(o.latest)
}

func (o *outbox) hold(m bufferedMsg) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m.latestOnly {
		if _, ok := o.latest[m.topic]; !ok {
			o.topics = append(o.topics, m.topic)
		}
		o.latest[m.topic] = m
		return
	}
	if was := o.buf.Overflowed(); o.buf.Push(m) && !was {
		o.log.Warn().Int("capacity", o.buf.Cap()).Msg("buffer full, dropping oldest")
	}
}

// flushLocked sends queued messages, then the latest-only ones. The caller
// holds sendMu. On failure the unsent remainder stays held.
func (o *outbox) flushLocked() error {
	o.mu.Lock()
	pending := o.buf.DrainAll()
	for _, t := range o.topics {
		pending = append(pending, o.latest[t])
	}
	o.topics = nil
	o.latest = make(map[string]bufferedMsg)
	o.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	o.log.Info().Int("messages", len(pending)).Msg("replaying buffered messages")
	for i, m := range pending {
		if err := o.send(m); err != nil {
			for _, rest := range pending[i:] {
				o.hold(rest)
			}
			return err
		}
	}
	return nil
}

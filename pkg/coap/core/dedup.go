package core

import (
	"sync"
	"time"

	"github.com/jabolina/go-coap/pkg/coap/definition"
)

// KeyID is the deduplication key: message-ID scoped to (peer, origin).
type KeyID struct {
	MessageID uint16
	Peer      string
	Origin    Origin
}

// Origin distinguishes exchanges the engine created (LOCAL: every outbound
// request) from ones a peer created (REMOTE: the deduplicator's records of
// peer-originated CON/NON messages).
type Origin uint8

const (
	OriginLocal Origin = iota
	OriginRemote
)

// entry pairs an exchange with the wall-clock time it was last touched, for
// the sweep to compare against ExchangeLifetime.
type entry struct {
	exchange  *Exchange
	timestamp time.Time
}

// Deduplicator maps inbound message-ID+peer to the originating exchange. A
// periodic sweep evicts entries older than ExchangeLifetime; readers
// tolerate concurrent removal by treating a missing entry as "no duplicate".
type Deduplicator struct {
	log definition.Logger

	lifetime      time.Duration
	sweepInterval time.Duration

	mu    sync.Mutex
	table map[KeyID]entry

	ctx    chan struct{}
	closed bool
	now    func() time.Time
}

// NewDeduplicator builds a Deduplicator whose clock (the now field) is
// time.Now; tests in this package may override the field to control sweep
// behavior deterministically.
func NewDeduplicator(log definition.Logger, lifetime, sweepInterval time.Duration) *Deduplicator {
	if log == nil {
		log = definition.NoopLogger{}
	}
	return &Deduplicator{
		log:           log,
		lifetime:      lifetime,
		sweepInterval: sweepInterval,
		table:         make(map[KeyID]entry),
		ctx:           make(chan struct{}),
		now:           time.Now,
	}
}

// FindPrevious atomically inserts or replaces the entry under key, returning
// whatever exchange was present before the call (nil if none). Two
// concurrent callers racing on the same key will agree on which is "first":
// whichever call observes a non-nil prior exchange is the duplicate.
func (d *Deduplicator) FindPrevious(key KeyID, exchange *Exchange) *Exchange {
	d.mu.Lock()
	defer d.mu.Unlock()

	prior, ok := d.table[key]
	d.table[key] = entry{exchange: exchange, timestamp: d.now()}
	if !ok {
		return nil
	}
	return prior.exchange
}

// Find returns the exchange registered under key, or nil if none.
func (d *Deduplicator) Find(key KeyID) *Exchange {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.table[key]
	if !ok {
		return nil
	}
	return e.exchange
}

// Remove drops key immediately, used when an exchange completes and does not
// need to wait for the next sweep.
func (d *Deduplicator) Remove(key KeyID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.table, key)
}

// Clear empties the table.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table = make(map[KeyID]entry)
}

// Start launches the periodic sweep. Sweep never blocks receive/send: it
// takes the lock only long enough to snapshot and delete expired keys.
func (d *Deduplicator) Start(invoker Invoker) {
	invoker.Spawn(func() {
		ticker := time.NewTicker(d.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx:
				return
			case <-ticker.C:
				d.sweep()
			}
		}
	})
}

func (d *Deduplicator) sweep() {
	horizon := d.now().Add(-d.lifetime)

	d.mu.Lock()
	var expired []KeyID
	for key, e := range d.table {
		if e.timestamp.Before(horizon) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(d.table, key)
	}
	d.mu.Unlock()

	if len(expired) > 0 {
		d.log.Debugf("dedup sweep evicted %d exchange(s)", len(expired))
	}
}

// Stop halts the sweep goroutine.
func (d *Deduplicator) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		close(d.ctx)
		d.closed = true
	}
}

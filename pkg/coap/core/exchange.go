package core

import (
	"context"
	"sync"
	"time"

	"github.com/jabolina/go-coap/pkg/coap"
)

// State is the outbound exchange state machine.
type State uint8

const (
	StateNew State = iota
	StateWaitAck
	StateWaitResponse
	StateDone
	StateRejected
	StateTimedOut
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateWaitAck:
		return "WAIT_ACK"
	case StateWaitResponse:
		return "WAIT_RESPONSE"
	case StateDone:
		return "DONE"
	case StateRejected:
		return "REJECTED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Result is delivered through an Exchange's fulfillable cell: either a
// response or a terminal error (Rejected/TimedOut/Canceled/TransportError/
// DecodeError).
type Result struct {
	Response *coap.Message
	Err      error
}

// TokenKey correlates a response to its originating exchange independent of
// message-ID.
type TokenKey struct {
	Token string
	Peer  string
}

// NotifyFunc receives observe notifications. Must be non-blocking; the
// engine isolates panics so a misbehaving caller cannot kill the endpoint.
type NotifyFunc func(coap.Message)

// ErrorFunc receives the terminal error for an observe relation.
type ErrorFunc func(error)

// Exchange is per-(request, peer) state held by the engine.
// The same struct doubles as the lightweight record the Deduplicator stores
// for inbound-retransmission suppression (see Engine.handlePeerOriginated):
// such "shadow" exchanges only populate Origin/KeyID/lastSentBytes and never reach
// the outbound state machine below.
type Exchange struct {
	mu sync.Mutex

	Origin Origin

	CurrentRequest  *coap.Message
	CurrentResponse *coap.Message

	Timestamp time.Time

	RetransmitCount    int
	RetransmitDeadline time.Time

	KeyID    KeyID
	KeyToken TokenKey

	State     State
	completed bool

	maxRetransmit   int
	ackTimeout      time.Duration
	ackRandomFactor float64
	nonLifetime     time.Duration

	result chan Result

	// notify/errorCB are set when this exchange is an observe registration;
	// every subsequent notification on the same token flows through notify.
	notify  NotifyFunc
	errorCB ErrorFunc
	orderer *Orderer

	timer      *time.Timer
	cancelFunc func()

	// lastSentBytes caches the wire bytes most recently sent for this key, so
	// a duplicate inbound datagram can be answered identically without
	// re-invoking the codec or re-delivering to the application.
	lastSentBytes []byte

	engine *Engine
}

// Cancel withdraws this exchange through its owning engine: stops further
// retransmissions, releases the exchange's message-ID/token, and completes
// it with ErrCanceled.
func (e *Exchange) Cancel() {
	if e.engine != nil {
		e.engine.Cancel(e)
	}
}

// Await blocks until a response arrives, the exchange fails, or ctx is done,
// whichever happens first. A canceled ctx does not itself cancel the
// exchange — callers that want cancellation semantics should call
// Engine.Cancel explicitly.
func (e *Exchange) Await(ctx context.Context) (*coap.Message, error) {
	select {
	case r := <-e.result:
		return r.Response, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResultChan exposes the raw result cell for callers building their own
// async handles (e.g. the client's observe/async request wrappers).
func (e *Exchange) ResultChan() <-chan Result {
	return e.result
}

// IsObserve reports whether this exchange represents an active observe
// registration.
func (e *Exchange) IsObserve() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notify != nil
}

// Completed reports whether the exchange has reached a terminal state.
func (e *Exchange) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// complete transitions the exchange to a terminal state exactly once,
// cancels its retransmit timer, and — for non-observe exchanges — delivers
// the final Result to the caller. Safe to call multiple times; only the
// first call has any effect.
func (e *Exchange) complete(state State, result Result) {
	e.mu.Lock()
	if e.completed {
		e.mu.Unlock()
		return
	}
	e.completed = true
	e.State = state
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	observing := e.notify != nil
	errorCB := e.errorCB
	e.mu.Unlock()

	if observing {
		if result.Err != nil && errorCB != nil {
			safeInvokeError(errorCB, result.Err)
		}
		return
	}

	select {
	case e.result <- result:
	default:
		// The synchronous waiter already gave up (timeout) or was never
		// consulted (fire-and-forget async send); the cell is buffered so
		// this never blocks the receive path.
	}
}

// deliverNotification pushes a fresh observe notification to the registered
// callback, isolating panics from the engine's receive loop.
func (e *Exchange) deliverNotification(m coap.Message) {
	e.mu.Lock()
	cb := e.notify
	e.mu.Unlock()
	if cb == nil {
		return
	}
	safeInvokeNotify(cb, m)
}

// deliverIfFresh checks a notification's Observe sequence number against
// this relation's orderer and, only if it passes, invokes the notify
// callback — both steps under the same lock acquisition. Notifications for
// one relation arrive on separate receive-loop goroutines, so the freshness
// check and the callback invocation must be atomic with each other: without
// a shared lock, two notifications can both pass IsFresh before either
// delivers, or deliver out of order relative to the sequence numbers they
// just validated. Returns false (dropping the notification) when it is
// stale or this exchange is not an observe relation.
func (e *Exchange) deliverIfFresh(seq uint32, now time.Time, m coap.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.orderer == nil || !e.orderer.IsFresh(seq, now) {
		return false
	}
	cb := e.notify
	if cb == nil {
		return false
	}
	safeInvokeNotify(cb, m)
	return true
}

func safeInvokeNotify(cb NotifyFunc, m coap.Message) {
	defer func() { _ = recover() }()
	cb(m)
}

func safeInvokeError(cb ErrorFunc, err error) {
	defer func() { _ = recover() }()
	cb(err)
}

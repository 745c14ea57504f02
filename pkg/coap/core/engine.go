// Package core implements the datagram channel, deduplicator, and exchange
// engine: the reliability and correlation machinery the client-facing
// request driver (pkg/coap.Client) drives.
package core

import (
	"crypto/rand"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jabolina/go-coap/pkg/coap"
	"github.com/jabolina/go-coap/pkg/coap/codec"
	"github.com/jabolina/go-coap/pkg/coap/definition"
	"github.com/prometheus/client_golang/prometheus"
)

// Engine correlates outgoing requests with inbound ACK/RST/response
// datagrams, owns CON retransmission timers, suppresses duplicates, and
// delivers a single response or a stream of observe notifications.
type Engine struct {
	log     definition.Logger
	codec   codec.Codec
	channel *Channel
	dedup   *Deduplicator
	metrics *Metrics
	config  *coap.Config
	invoker Invoker

	mid   uint32 // atomic, wraps to uint16
	token [4]byte
	tokMu sync.Mutex
	tokCt uint32

	mu         sync.Mutex
	byMessage  map[KeyID]*Exchange
	byToken    map[TokenKey]*Exchange

	closed chan struct{}
	once   sync.Once
}

// EngineOption customizes Engine construction.
type EngineOption func(*Engine)

// WithCodec overrides the default RFC7252Codec.
func WithCodec(c codec.Codec) EngineOption {
	return func(e *Engine) { e.codec = c }
}

// WithMetrics overrides the default no-registry Metrics.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithInvoker overrides the default goroutine-per-spawn Invoker.
func WithInvoker(i Invoker) EngineOption {
	return func(e *Engine) { e.invoker = i }
}

// NewEngine wires a Channel, Deduplicator, and codec into a running engine
// and starts its receive pump and dedup sweep.
func NewEngine(channel *Channel, log definition.Logger, config *coap.Config, opts ...EngineOption) *Engine {
	if log == nil {
		log = definition.NoopLogger{}
	}
	if config == nil {
		config = coap.DefaultConfig()
	}

	e := &Engine{
		log:       log,
		codec:     codec.NewCodec(),
		channel:   channel,
		dedup:     NewDeduplicator(log, config.ExchangeLifetime, config.MarkAndSweepInterval),
		metrics:   NewMetrics(nil),
		config:    config,
		invoker:   NewInvoker(),
		byMessage: make(map[KeyID]*Exchange),
		byToken:   make(map[TokenKey]*Exchange),
		closed:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	var seed [4]byte
	_, _ = rand.Read(seed[:])
	e.token = seed

	e.dedup.Start(e.invoker)
	e.channel.Start()
	e.invoker.Spawn(e.pollReceive)

	return e
}

// nextMessageID returns the next message-ID, monotonic with 16-bit
// wraparound under a single-writer discipline (atomic increment).
func (e *Engine) nextMessageID() uint16 {
	return uint16(atomic.AddUint32(&e.mid, 1))
}

// nextToken returns a fresh 4-byte token, unique across outstanding
// exchanges on this endpoint (monotonic counter folded over a random seed,
// so restarts of the same process don't collide with still-alive peers'
// memory of a prior token as badly as an all-zero counter would).
func (e *Engine) nextToken() coap.Token {
	e.tokMu.Lock()
	defer e.tokMu.Unlock()
	e.tokCt++
	t := make([]byte, 4)
	copy(t, e.token[:])
	t[0] ^= byte(e.tokCt)
	t[1] ^= byte(e.tokCt >> 8)
	t[2] ^= byte(e.tokCt >> 16)
	t[3] ^= byte(e.tokCt >> 24)
	return t
}

// SendOptions configures how Send drives a single exchange.
type SendOptions struct {
	// MaxRetransmit overrides config.MaxRetransmit when non-negative.
	MaxRetransmit int

	// Observe, when true, keeps the exchange alive past the first response
	// so that subsequent notifications on the same token are delivered to
	// Notify instead of completing the exchange.
	Observe bool

	Notify NotifyFunc
	Error  ErrorFunc
}

// Send assigns a message-ID and (if absent) a token to req, sends it on the
// wire, and returns the Exchange tracking its lifecycle. The caller reads
// the outcome from Exchange.Await or Exchange.Result.
func (e *Engine) Send(req *coap.Message, opts SendOptions) (*Exchange, error) {
	select {
	case <-e.closed:
		return nil, coap.ErrEndpointClosed
	default:
	}

	if req.MessageID == 0 {
		req.MessageID = e.nextMessageID()
	}
	// An Empty message (RFC 7252 §4.1, used for CON pings) must carry a
	// zero-length token; only assign one for requests that expect a response.
	if len(req.Token) == 0 && req.Code != coap.CodeEmpty {
		req.Token = e.nextToken()
	}

	maxRetransmit := e.config.MaxRetransmit
	if opts.MaxRetransmit >= 0 {
		maxRetransmit = opts.MaxRetransmit
	}

	ex := &Exchange{
		Origin:          OriginLocal,
		CurrentRequest:  req,
		Timestamp:       time.Now(),
		KeyID:           KeyID{MessageID: req.MessageID, Peer: req.Peer, Origin: OriginLocal},
		KeyToken:        TokenKey{Token: req.Token.String(), Peer: req.Peer},
		State:           StateNew,
		maxRetransmit:   maxRetransmit,
		ackTimeout:      e.config.AckTimeout,
		ackRandomFactor: e.config.AckRandomFactor,
		nonLifetime:     e.config.NonLifetime,
		result:          make(chan Result, 1),
		engine:          e,
	}
	if opts.Observe {
		ex.notify = opts.Notify
		ex.errorCB = opts.Error
		ex.orderer = NewOrderer()
	}

	e.registerExchange(ex)

	if err := e.sendWire(ex, req); err != nil {
		e.unregisterExchange(ex)
		result := Result{Err: coap.TransportError(err)}
		ex.complete(StateRejected, result)
		return ex, err
	}

	if req.IsConfirmable() {
		ex.State = StateWaitAck
		e.scheduleRetransmit(ex)
	} else {
		ex.State = StateWaitResponse
		e.scheduleNonLifetime(ex)
	}

	e.metrics.ActiveExchanges.Inc()
	return ex, nil
}

func (e *Engine) sendWire(ex *Exchange, m *coap.Message) error {
	data, err := e.codec.Encode(*m)
	if err != nil {
		return err
	}
	ex.mu.Lock()
	ex.lastSentBytes = data
	ex.mu.Unlock()
	return e.channel.Send(data, m.Peer)
}

func (e *Engine) registerExchange(ex *Exchange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byMessage[ex.KeyID] = ex
	e.byToken[ex.KeyToken] = ex
}

func (e *Engine) unregisterExchange(ex *Exchange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.byMessage[ex.KeyID] == ex {
		delete(e.byMessage, ex.KeyID)
	}
	if e.byToken[ex.KeyToken] == ex {
		delete(e.byToken, ex.KeyToken)
	}
}

// scheduleRetransmit arms the initial CON retransmission timer;
// onRetransmitFire re-arms it with a doubled timeout. Completing an exchange
// stops the timer under the exchange's lock, but time.Timer.Stop does not
// wait for a callback already running, so a fired timer that finds the
// exchange already completed is a no-op.
func (e *Engine) scheduleRetransmit(ex *Exchange) {
	timeout := jitteredTimeout(ex.ackTimeout, ex.ackRandomFactor)
	e.armTimer(ex, timeout, func() { e.onRetransmitFire(ex) })
}

func jitteredTimeout(base time.Duration, randomFactor float64) time.Duration {
	if randomFactor <= 1 {
		return base
	}
	span := float64(base)*randomFactor - float64(base)
	n, err := rand.Int(rand.Reader, big.NewInt(int64(math.Max(span, 1))))
	jitter := time.Duration(0)
	if err == nil {
		jitter = time.Duration(n.Int64())
	}
	return base + jitter
}

func (e *Engine) armTimer(ex *Exchange, after time.Duration, fire func()) {
	timer := time.AfterFunc(after, fire)
	ex.mu.Lock()
	ex.timer = timer
	ex.cancelFunc = func() { timer.Stop() }
	ex.RetransmitDeadline = time.Now().Add(after)
	ex.mu.Unlock()
}

func (e *Engine) onRetransmitFire(ex *Exchange) {
	if ex.Completed() {
		return
	}

	ex.mu.Lock()
	if ex.RetransmitCount >= ex.maxRetransmit {
		ex.mu.Unlock()
		e.timeout(ex)
		return
	}
	ex.RetransmitCount++
	count := ex.RetransmitCount
	req := ex.CurrentRequest
	base := ex.ackTimeout
	factor := ex.ackRandomFactor
	ex.mu.Unlock()

	if err := e.sendWire(ex, req); err != nil {
		e.fail(ex, coap.TransportError(err))
		return
	}
	e.metrics.Retransmits.Inc()

	next := base * time.Duration(1<<uint(count))
	timeout := jitteredTimeout(next, factor)
	e.armTimer(ex, timeout, func() { e.onRetransmitFire(ex) })
}

func (e *Engine) scheduleNonLifetime(ex *Exchange) {
	e.armTimer(ex, ex.nonLifetime, func() { e.timeout(ex) })
}

func (e *Engine) timeout(ex *Exchange) {
	e.unregisterExchange(ex)
	e.metrics.Timeouts.Inc()
	e.metrics.ActiveExchanges.Dec()
	ex.mu.Lock()
	count := ex.RetransmitCount
	ex.mu.Unlock()
	ex.complete(StateTimedOut, Result{Err: coap.TimedOut(count)})
}

func (e *Engine) fail(ex *Exchange, err error) {
	e.unregisterExchange(ex)
	e.metrics.ActiveExchanges.Dec()
	ex.complete(StateRejected, Result{Err: err})
}

// Cancel withdraws a pending exchange: stops retransmission, releases it
// from the engine's tables, and signals the caller with ErrCanceled.
func (e *Engine) Cancel(ex *Exchange) {
	e.unregisterExchange(ex)
	e.dedup.Remove(ex.KeyID)
	e.metrics.ActiveExchanges.Dec()
	ex.complete(StateCanceled, Result{Err: coap.Canceled()})
}

// pollReceive is the engine's single consumer of the channel's upward flow.
func (e *Engine) pollReceive() {
	for {
		select {
		case <-e.closed:
			return
		case d, ok := <-e.channel.Received():
			if !ok {
				return
			}
			e.invoker.Spawn(func() { e.handleDatagram(d) })
		case sf, ok := <-e.channel.SendFailures():
			if !ok {
				continue
			}
			e.invoker.Spawn(func() { e.handleSendFailure(sf) })
		}
	}
}

func (e *Engine) handleSendFailure(sf SendFailure) {
	e.mu.Lock()
	var affected []*Exchange
	for _, ex := range e.byToken {
		if ex.CurrentRequest != nil && ex.CurrentRequest.Peer == sf.Peer {
			affected = append(affected, ex)
		}
	}
	e.mu.Unlock()

	for _, ex := range affected {
		e.fail(ex, coap.TransportError(sf.Err))
	}
}

func (e *Engine) handleDatagram(d Datagram) {
	m, err := e.codec.Decode(d.Data, d.Peer)
	if err != nil {
		e.log.Debugf("dropping malformed datagram from %s: %v", d.Peer, err)
		if ex := e.findByTokenRaw(d); ex != nil {
			e.fail(ex, coap.DecodeError(err))
		}
		return
	}

	switch m.Type {
	case coap.TypeAcknowledgement:
		e.handleAck(m)
	case coap.TypeReset:
		e.handleReset(m)
	case coap.TypeConfirmable, coap.TypeNonConfirmable:
		e.handlePeerOriginated(m)
	}
}

// findByTokenRaw is a best-effort lookup used only when the datagram fails
// to decode at all, so there is no token to key on; returns nil
// since a fully malformed datagram carries no recoverable correlation.
func (e *Engine) findByTokenRaw(d Datagram) *Exchange {
	return nil
}

// handleAck processes an inbound ACK, matched by message-ID+peer: an empty
// ACK stops retransmission and leaves the exchange in WAIT_RESPONSE; a
// non-empty ACK is a piggybacked response.
func (e *Engine) handleAck(m coap.Message) {
	key := KeyID{MessageID: m.MessageID, Peer: m.Peer, Origin: OriginLocal}
	e.mu.Lock()
	ex, ok := e.byMessage[key]
	e.mu.Unlock()
	if !ok || ex.Completed() {
		return
	}

	ex.mu.Lock()
	if ex.cancelFunc != nil {
		ex.cancelFunc()
	}
	ex.mu.Unlock()

	if m.IsEmpty() {
		ex.State = StateWaitResponse
		return
	}

	e.deliverResponse(ex, m, false)
}

// handleReset processes an inbound RST, matched by message-ID, transitioning
// the exchange to REJECTED and canceling any observe relation on it.
func (e *Engine) handleReset(m coap.Message) {
	key := KeyID{MessageID: m.MessageID, Peer: m.Peer, Origin: OriginLocal}
	e.mu.Lock()
	ex, ok := e.byMessage[key]
	e.mu.Unlock()
	if !ok || ex.Completed() {
		return
	}

	e.unregisterExchange(ex)
	e.metrics.Rejections.Inc()
	e.metrics.ActiveExchanges.Dec()
	ex.complete(StateRejected, Result{Response: &m, Err: coap.Rejected(m.Peer)})
}

// handlePeerOriginated processes a new CON/NON the peer sent us: a separate
// (non-piggybacked) response, or an observe notification. These carry the
// peer's own message-ID sequence, so they run through the Deduplicator keyed
// with Origin REMOTE before being matched by token.
func (e *Engine) handlePeerOriginated(m coap.Message) {
	key := KeyID{MessageID: m.MessageID, Peer: m.Peer, Origin: OriginRemote}

	shadow := &Exchange{Origin: OriginRemote, KeyID: key}
	prior := e.dedup.FindPrevious(key, shadow)
	if prior != nil {
		e.metrics.DuplicatesFound.Inc()
		prior.mu.Lock()
		cached := prior.lastSentBytes
		peer := m.Peer
		prior.mu.Unlock()
		if len(cached) > 0 {
			_ = e.channel.Send(cached, peer)
		}
		return
	}

	if m.IsConfirmable() {
		e.ackPeerOriginated(m, shadow)
	}

	e.deliverByToken(m)
}

func (e *Engine) ackPeerOriginated(m coap.Message, shadow *Exchange) {
	ack := coap.Message{
		Type:      coap.TypeAcknowledgement,
		Code:      coap.CodeEmpty,
		MessageID: m.MessageID,
		Peer:      m.Peer,
	}
	data, err := e.codec.Encode(ack)
	if err != nil {
		e.log.Errorf("failed encoding ack for %s: %v", m.Peer, err)
		return
	}
	shadow.mu.Lock()
	shadow.lastSentBytes = data
	shadow.mu.Unlock()
	if err := e.channel.Send(data, m.Peer); err != nil {
		e.log.Warnf("failed sending ack to %s: %v", m.Peer, err)
	}
}

func (e *Engine) deliverByToken(m coap.Message) {
	key := TokenKey{Token: m.Token.String(), Peer: m.Peer}
	e.mu.Lock()
	ex, ok := e.byToken[key]
	e.mu.Unlock()
	if !ok {
		e.log.Debugf("no exchange claims token %s from %s", m.Token, m.Peer)
		return
	}
	e.deliverResponse(ex, m, true)
}

// deliverResponse routes a matched response either to the synchronous/async
// Result cell (non-observe) or, for an observe relation, through the
// Orderer before invoking the caller's Notify callback. fromToken
// distinguishes a separate response (delivered after the engine already ACKed
// it in handlePeerOriginated) from a piggybacked one.
func (e *Engine) deliverResponse(ex *Exchange, m coap.Message, fromToken bool) {
	ex.mu.Lock()
	observing := ex.notify != nil
	ex.CurrentResponse = &m
	ex.mu.Unlock()

	if !observing {
		e.unregisterExchange(ex)
		e.metrics.ActiveExchanges.Dec()
		ex.complete(StateDone, Result{Response: &m})
		return
	}

	observeOpt, hasObserve := m.GetOption(coap.OptionObserve)
	if !hasObserve {
		// A non-observe response on an observing exchange (e.g. the server
		// does not support Observe) completes the relation like a normal
		// request/response.
		e.unregisterExchange(ex)
		e.metrics.ActiveExchanges.Dec()
		ex.complete(StateDone, Result{Response: &m})
		return
	}

	// The freshness check and the notify callback must happen atomically
	// with each other: concurrent notifications for this relation arrive on
	// separate receive-loop goroutines, so deliverIfFresh holds the
	// exchange's lock across both steps instead of releasing it between
	// IsFresh and the callback.
	seq := decodeObserveSequence(observeOpt.Value)
	if !ex.deliverIfFresh(seq, time.Now(), m) {
		e.log.Debugf("dropping stale notification seq=%d from %s", seq, m.Peer)
		return
	}

	e.metrics.Notifications.Inc()
}

func decodeObserveSequence(value []byte) uint32 {
	var v uint32
	for _, b := range value {
		v = v<<8 | uint32(b)
	}
	return v
}

// Shutdown tears down the engine's receive pump, dedup sweep, and channel.
func (e *Engine) Shutdown() error {
	var err error
	e.once.Do(func() {
		close(e.closed)
		e.dedup.Stop()
		err = e.channel.Stop()
	})
	return err
}

// RegisterMetrics attaches a Prometheus registerer for this engine's
// collectors; safe to skip if the caller does not want instrumentation.
func RegisterMetrics(reg prometheus.Registerer) *Metrics {
	return NewMetrics(reg)
}

// MessageIDInUse reports whether mid is currently claimed by an in-flight
// local exchange to peer, used by tests asserting message-ID uniqueness
// among concurrently in-flight exchanges to the same peer.
func (e *Engine) MessageIDInUse(mid uint16, peer string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.byMessage[KeyID{MessageID: mid, Peer: peer, Origin: OriginLocal}]
	return ok
}

package core

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jabolina/go-coap/pkg/coap/definition"
	"golang.org/x/sync/errgroup"
)

// Datagram is a single inbound (bytes, peer) tuple delivered upward from the
// channel.
type Datagram struct {
	Data []byte
	Peer string
}

// SendFailure is reported when a send could not be handed to the OS and a
// peer association exists, so the exchange engine can fail the right
// exchange instead of only logging.
type SendFailure struct {
	Peer string
	Err  error
}

// Channel owns up to two UDP sockets (IPv4 and IPv6) and pumps receive/send
// asynchronously over plain unicast net.UDPConn sockets.
type Channel struct {
	log definition.Logger

	conns []*socket

	producer     chan Datagram
	sendFailures chan SendFailure

	ctx    context.Context
	cancel context.CancelFunc

	group *errgroup.Group
}

type socket struct {
	conn       *net.UDPConn
	recvBuffer []byte
}

// NewChannel binds a UDP socket for each requested local address ("" means
// "let the OS pick an ephemeral port on the wildcard address", used by
// clients that don't listen). recvBufferSize sizes each socket's
// pre-allocated receive buffer.
func NewChannel(log definition.Logger, localAddrs []string, recvBufferSize int) (*Channel, error) {
	if log == nil {
		log = definition.NoopLogger{}
	}
	if recvBufferSize <= 0 {
		recvBufferSize = 1152
	}
	if len(localAddrs) == 0 {
		localAddrs = []string{":0"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	_ = gctx

	c := &Channel{
		log:          log,
		producer:     make(chan Datagram, 256),
		sendFailures: make(chan SendFailure, 32),
		ctx:          ctx,
		cancel:       cancel,
		group:        group,
	}

	for _, addr := range localAddrs {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			cancel()
			return nil, err
		}
		conn, err := net.ListenUDP(udpAddr.Network(), udpAddr)
		if err != nil {
			cancel()
			return nil, err
		}
		c.conns = append(c.conns, &socket{
			conn:       conn,
			recvBuffer: make([]byte, recvBufferSize),
		})
	}

	return c, nil
}

// Start launches the receive pump for every bound socket.
func (c *Channel) Start() {
	for _, s := range c.conns {
		sock := s
		c.group.Go(func() error {
			c.receiveLoop(sock)
			return nil
		})
	}
}

// LocalAddr returns the first bound socket's local address, the common case
// for clients with a single ephemeral-port socket.
func (c *Channel) LocalAddr() net.Addr {
	if len(c.conns) == 0 {
		return nil
	}
	return c.conns[0].conn.LocalAddr()
}

// Received exposes the upward flow of (bytes, peer) tuples.
func (c *Channel) Received() <-chan Datagram {
	return c.producer
}

// SendFailures exposes send errors that could be associated with a peer.
func (c *Channel) SendFailures() <-chan SendFailure {
	return c.sendFailures
}

// Send writes data to peer using the first bound socket whose address family
// matches. Many goroutines call Send concurrently (retransmit timers, the
// receive-loop's dup re-emits, and client-driven sends all race on the same
// socket), so data is written directly rather than staged through any
// per-socket buffer — net.UDPConn.WriteToUDP does not retain the slice past
// the call, and a shared staging buffer would let concurrent callers
// corrupt each other's datagram between copy and write.
func (c *Channel) Send(data []byte, peer string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return err
	}

	sock := c.socketFor(udpAddr)
	if sock == nil {
		return errors.New("coap: no bound socket for peer address family")
	}

	_, err = sock.conn.WriteToUDP(data, udpAddr)
	if err != nil {
		c.reportSendFailure(peer, err)
		return err
	}
	return nil
}

func (c *Channel) socketFor(addr *net.UDPAddr) *socket {
	wantV4 := addr.IP.To4() != nil
	for _, s := range c.conns {
		local, ok := s.conn.LocalAddr().(*net.UDPAddr)
		if !ok {
			continue
		}
		isV4 := local.IP.To4() != nil || local.IP == nil
		if isV4 == wantV4 {
			return s
		}
	}
	if len(c.conns) > 0 {
		return c.conns[0]
	}
	return nil
}

func (c *Channel) reportSendFailure(peer string, err error) {
	select {
	case c.sendFailures <- SendFailure{Peer: peer, Err: err}:
	default:
		c.log.Warnf("send failure queue full, dropping failure for %s: %v", peer, err)
	}
}

// receiveLoop posts a receive, hands the buffer upward, and immediately
// reposts. Synchronous completions (the kernel returning data immediately,
// as it commonly does under load) are drained iteratively here rather than
// via recursion.
func (c *Channel) receiveLoop(s *socket) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		n, addr, err := s.conn.ReadFromUDP(s.recvBuffer)
		if err != nil {
			if isBenignSocketError(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Errorf("fatal socket error, tearing down receive loop: %v", err)
			return
		}

		data := make([]byte, n)
		copy(data, s.recvBuffer[:n])
		c.deliver(Datagram{Data: data, Peer: addr.String()})
	}
}

func (c *Channel) deliver(d Datagram) {
	select {
	case c.producer <- d:
	case <-c.ctx.Done():
	}
}

// isBenignSocketError reports whether err should not terminate the receive
// loop: a timeout, operation aborted, or interrupted.
func isBenignSocketError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "operation was aborted") ||
		strings.Contains(msg, "interrupted")
}

// Stop tears down every socket and stops the receive pumps.
func (c *Channel) Stop() error {
	c.cancel()
	var firstErr error
	for _, s := range c.conns {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = c.group.Wait()
	return firstErr
}

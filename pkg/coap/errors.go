package coap

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced to callers. Wrap with fmt.Errorf("...: %w", ErrX)
// so errors.Is keeps working once additional context is attached.
var (
	// ErrRejected is returned when the peer answers with a RST.
	ErrRejected = errors.New("coap: request rejected by peer")

	// ErrTimedOut is returned when the retransmission budget is exhausted or a
	// NON exchange exceeds its lifetime without a response.
	ErrTimedOut = errors.New("coap: request timed out")

	// ErrCanceled is returned when the caller withdrew the request.
	ErrCanceled = errors.New("coap: request canceled")

	// ErrTransport is returned when the datagram channel failed to deliver the
	// request on the wire.
	ErrTransport = errors.New("coap: transport error")

	// ErrDecode is returned when an inbound datagram could not be parsed.
	ErrDecode = errors.New("coap: malformed message")

	// ErrEndpointClosed is returned by operations attempted after Shutdown.
	ErrEndpointClosed = errors.New("coap: endpoint closed")
)

// Rejected wraps ErrRejected with the peer that sent the RST.
func Rejected(peer string) error {
	return fmt.Errorf("%w: from %s", ErrRejected, peer)
}

// TimedOut wraps ErrTimedOut with the number of retransmissions already sent.
func TimedOut(retransmits int) error {
	return fmt.Errorf("%w: after %d retransmission(s)", ErrTimedOut, retransmits)
}

// Canceled wraps ErrCanceled.
func Canceled() error {
	return fmt.Errorf("%w", ErrCanceled)
}

// TransportError wraps ErrTransport with the underlying socket error.
func TransportError(cause error) error {
	return fmt.Errorf("%w: %v", ErrTransport, cause)
}

// DecodeError wraps ErrDecode with the underlying parse failure.
func DecodeError(cause error) error {
	return fmt.Errorf("%w: %v", ErrDecode, cause)
}

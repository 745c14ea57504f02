package core

import (
	"github.com/jabolina/go-coap/pkg/coap"
	"github.com/jabolina/go-coap/pkg/coap/definition"
)

// Endpoint bundles one Channel with the Engine multiplexing every exchange
// over it. It is the unit definition.Manager creates and tears down as the
// process-wide default.
type Endpoint struct {
	Channel *Channel
	Engine  *Engine
}

// NewEndpoint binds a channel and starts an engine over it. localAddrs
// follows Channel's convention: empty means "ephemeral port, wildcard
// address", the common case for a client that never listens.
func NewEndpoint(log definition.Logger, config *coap.Config, localAddrs []string, opts ...EngineOption) (*Endpoint, error) {
	if config == nil {
		config = coap.DefaultConfig()
	}
	channel, err := NewChannel(log, localAddrs, config.ReceiveBufferSize)
	if err != nil {
		return nil, err
	}
	engine := NewEngine(channel, log, config, opts...)
	return &Endpoint{Channel: channel, Engine: engine}, nil
}

// Shutdown tears down the engine and its channel. Safe to call once;
// subsequent calls are no-ops via Engine.Shutdown's sync.Once.
func (ep *Endpoint) Shutdown() error {
	return ep.Engine.Shutdown()
}

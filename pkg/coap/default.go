package coap

import (
	"github.com/jabolina/go-coap/pkg/coap/core"
	"github.com/jabolina/go-coap/pkg/coap/definition"
)

// defaultManager lazily owns the process-wide default endpoint used by
// DefaultClient. It is separate from any Endpoint/Client a caller constructs
// explicitly; those are torn down by the caller, not by this package.
var defaultManager = definition.NewManager(
	func() (interface{}, error) {
		return core.NewEndpoint(definition.NoopLogger{}, DefaultConfig(), nil)
	},
	func(ep interface{}) error {
		return ep.(*core.Endpoint).Shutdown()
	},
)

// DefaultClient returns a Client bound to the process-wide default endpoint,
// creating the endpoint on first use. Most callers building a long-lived
// application should construct their own Endpoint and Client instead; this
// exists for quick one-off requests.
func DefaultClient() (*Client, error) {
	ep, err := defaultManager.Default()
	if err != nil {
		return nil, err
	}
	return NewClient(ep.(*core.Endpoint)), nil
}

// ShutdownDefault tears down the process-wide default endpoint, if one was
// ever created. Safe to call even if DefaultClient was never called.
func ShutdownDefault() error {
	return defaultManager.Shutdown()
}

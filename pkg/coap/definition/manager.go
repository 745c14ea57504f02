package definition

import (
	"fmt"
	"sync"
)

// Manager is the process-wide default-endpoint collaborator: clients that do
// not supply their own endpoint use Manager.Default(). It is an explicit
// create/shutdown pair rather than an implicit, teardown-less singleton: the
// zero value is unusable until a Manager is constructed with NewManager, and
// Shutdown must be called before the process exits to release the default
// endpoint's sockets.
//
// The core package (pkg/coap/core) cannot be imported here without creating
// an import cycle with pkg/coap, so Manager is generic over the concrete
// endpoint type via the EndpointFactory/EndpointCloser functions supplied at
// construction — pkg/coap wires Manager to core.NewEndpoint/core.Endpoint.Shutdown.
type Manager struct {
	mu       sync.Mutex
	endpoint interface{}
	create   func() (interface{}, error)
	close    func(interface{}) error
}

// NewManager builds a Manager that lazily creates its default endpoint with
// create and tears it down with closeFn.
func NewManager(create func() (interface{}, error), closeFn func(interface{}) error) *Manager {
	return &Manager{create: create, close: closeFn}
}

// Default returns the process-wide default endpoint, creating it on first
// use. Safe for concurrent callers.
func (m *Manager) Default() (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endpoint != nil {
		return m.endpoint, nil
	}
	ep, err := m.create()
	if err != nil {
		return nil, fmt.Errorf("coap: failed creating default endpoint: %w", err)
	}
	m.endpoint = ep
	return ep, nil
}

// Shutdown tears down the default endpoint if one was created, and clears it
// so a subsequent Default() call creates a fresh one.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endpoint == nil {
		return nil
	}
	err := m.close(m.endpoint)
	m.endpoint = nil
	return err
}

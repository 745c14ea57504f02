package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannelSendReceiveRoundTrip(t *testing.T) {
	a, err := NewChannel(nil, []string{"127.0.0.1:0"}, 0)
	require.NoError(t, err)
	defer a.Stop()
	a.Start()

	b, err := NewChannel(nil, []string{"127.0.0.1:0"}, 0)
	require.NoError(t, err)
	defer b.Stop()
	b.Start()

	payload := []byte("hello")
	require.NoError(t, a.Send(payload, b.LocalAddr().String()))

	select {
	case d := <-b.Received():
		require.Equal(t, payload, d.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestChannelSendMalformedPeerReturnsError(t *testing.T) {
	a, err := NewChannel(nil, []string{"127.0.0.1:0"}, 0)
	require.NoError(t, err)
	defer a.Stop()
	a.Start()

	// A malformed peer address fails synchronously in Send without ever
	// reaching reportSendFailure.
	err = a.Send([]byte("x"), "not-an-address")
	require.Error(t, err)
}

func TestChannelStopClosesReceiveLoop(t *testing.T) {
	a, err := NewChannel(nil, []string{"127.0.0.1:0"}, 0)
	require.NoError(t, err)
	a.Start()
	require.NoError(t, a.Stop())
}

func TestChannelDefaultRecvBufferSize(t *testing.T) {
	a, err := NewChannel(nil, nil, 0)
	require.NoError(t, err)
	defer a.Stop()
	require.Len(t, a.conns, 1)
	require.Len(t, a.conns[0].recvBuffer, 1152)
}

package coap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	u, err := ParseURI("coap://example.org/sensors/temp?units=celsius")
	require.NoError(t, err)
	require.Equal(t, "example.org", u.Host)
	require.Equal(t, "5683", u.Port)
	require.Equal(t, []string{"sensors", "temp"}, u.Paths)
	require.Equal(t, []string{"units=celsius"}, u.Queries)
	require.Equal(t, "example.org:5683", u.Address())
}

func TestParseURIExplicitPort(t *testing.T) {
	u, err := ParseURI("coap://[::1]:9999/a")
	require.NoError(t, err)
	require.Equal(t, "::1", u.Host)
	require.Equal(t, "9999", u.Port)
}

func TestParseURIRejectsBadScheme(t *testing.T) {
	_, err := ParseURI("http://example.org/")
	require.Error(t, err)
}

func TestParseURINoHost(t *testing.T) {
	_, err := ParseURI("coap:///a")
	require.Error(t, err)
}

func TestRequestURIApplyTo(t *testing.T) {
	u := RequestURI{Paths: []string{"a", "b"}, Queries: []string{"x=1"}}
	var m Message
	u.applyTo(&m)

	paths := m.GetOptions(OptionUriPath)
	require.Len(t, paths, 2)
	require.Equal(t, "a", string(paths[0].Value))
	require.Equal(t, "b", string(paths[1].Value))

	queries := m.GetOptions(OptionUriQuery)
	require.Len(t, queries, 1)
	require.Equal(t, "x=1", string(queries[0].Value))
}

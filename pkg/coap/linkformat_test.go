package coap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLinkFormat(t *testing.T) {
	payload := []byte(`</sensors/temp>;ct=41;rt="temperature-c",</sensors/light>;if="sensor"`)
	links, err := ParseLinkFormat(payload)
	require.NoError(t, err)
	require.Len(t, links, 2)

	require.Equal(t, "/sensors/temp", links[0].Target)
	require.Equal(t, "41", links[0].Attributes["ct"])
	require.Equal(t, "temperature-c", links[0].Attributes["rt"])

	require.Equal(t, "/sensors/light", links[1].Target)
	require.Equal(t, "sensor", links[1].Attributes["if"])
}

func TestParseLinkFormatEmpty(t *testing.T) {
	links, err := ParseLinkFormat(nil)
	require.NoError(t, err)
	require.NotNil(t, links)
	require.Len(t, links, 0)
}

func TestParseLinkFormatBareAttribute(t *testing.T) {
	links, err := ParseLinkFormat([]byte(`</a>;obs`))
	require.NoError(t, err)
	require.Len(t, links, 1)
	_, ok := links[0].Attributes["obs"]
	require.True(t, ok)
	require.Equal(t, "", links[0].Attributes["obs"])
}

func TestParseLinkFormatTargetWithComma(t *testing.T) {
	links, err := ParseLinkFormat([]byte(`</a,b>;rt=x,</c>;rt=y`))
	require.NoError(t, err)
	require.Len(t, links, 2)
	require.Equal(t, "/a,b", links[0].Target)
	require.Equal(t, "/c", links[1].Target)
}

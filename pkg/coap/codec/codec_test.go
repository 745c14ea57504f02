package codec

import (
	"testing"

	"github.com/jabolina/go-coap/pkg/coap"
	"github.com/stretchr/testify/require"
)

func TestRoundTripSimpleRequest(t *testing.T) {
	c := NewCodec()
	in := coap.Message{
		Type:      coap.TypeConfirmable,
		Code:      coap.CodeGET,
		MessageID: 0xBEEF,
		Token:     coap.Token{0x01, 0x02, 0x03},
	}
	in.AddOption(coap.OptionUriPath, []byte("sensors"))
	in.AddOption(coap.OptionUriPath, []byte("temp"))

	data, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(data, "127.0.0.1:5683")
	require.NoError(t, err)

	require.Equal(t, in.Type, out.Type)
	require.Equal(t, in.Code, out.Code)
	require.Equal(t, in.MessageID, out.MessageID)
	require.Equal(t, []byte(in.Token), []byte(out.Token))
	require.Equal(t, "127.0.0.1:5683", out.Peer)

	paths := out.GetOptions(coap.OptionUriPath)
	require.Len(t, paths, 2)
	require.Equal(t, "sensors", string(paths[0].Value))
	require.Equal(t, "temp", string(paths[1].Value))
}

func TestRoundTripWithPayload(t *testing.T) {
	c := NewCodec()
	in := coap.Message{
		Type:      coap.TypeNonConfirmable,
		Code:      coap.CodeContent,
		MessageID: 7,
		Payload:   []byte("hello world"),
	}
	in.AddOption(coap.OptionContentFormat, []byte{byte(coap.ContentFormatTextPlain)})

	data, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(data, "peer")
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), out.Payload)
}

func TestRoundTripExtendedOptionNumbers(t *testing.T) {
	c := NewCodec()
	in := coap.Message{Type: coap.TypeConfirmable, Code: coap.CodePUT, MessageID: 1}
	// Uri-Path (11) stays below the 13 boundary and is encoded in the nibble;
	// OptionSize1 = 60 then needs a delta of 49, which forces the 1-byte
	// extended (nibble 13) delta path. The 2-byte extended path is not used.
	in.AddOption(coap.OptionUriPath, []byte("a"))
	in.AddOption(coap.OptionSize1, []byte{0x00, 0x01, 0x00})

	data, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(data, "peer")
	require.NoError(t, err)

	size1, ok := out.GetOption(coap.OptionSize1)
	require.True(t, ok)
	require.Equal(t, []byte{0x00, 0x01, 0x00}, size1.Value)
}

func TestDecodeRejectsShortDatagram(t *testing.T) {
	c := NewCodec()
	_, err := c.Decode([]byte{0x01, 0x02}, "peer")
	require.Error(t, err)
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	c := NewCodec()
	data := []byte{0x00, byte(coap.CodeGET), 0x00, 0x01}
	_, err := c.Decode(data, "peer")
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedToken(t *testing.T) {
	c := NewCodec()
	data := []byte{0x44, byte(coap.CodeGET), 0x00, 0x01, 0x01, 0x02}
	_, err := c.Decode(data, "peer")
	require.Error(t, err)
}

func TestEncodeRejectsOversizedToken(t *testing.T) {
	c := NewCodec()
	in := coap.Message{Token: make(coap.Token, 9)}
	_, err := c.Encode(in)
	require.Error(t, err)
}

func TestDecodeEmptyMessage(t *testing.T) {
	c := NewCodec()
	in := coap.Message{Type: coap.TypeAcknowledgement, Code: coap.CodeEmpty, MessageID: 42}
	data, err := c.Encode(in)
	require.NoError(t, err)

	out, err := c.Decode(data, "peer")
	require.NoError(t, err)
	require.True(t, out.IsEmpty())
	require.Empty(t, out.Payload)
	require.Empty(t, out.Options)
}

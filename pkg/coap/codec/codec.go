// Package codec implements the RFC 7252 §3 binary wire format. The engine
// treats the codec as a pluggable collaborator behind the Codec interface;
// this package is the one concrete implementation shipped so the rest of the
// module is actually runnable end to end.
package codec

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/jabolina/go-coap/pkg/coap"
)

const (
	version          = 1
	payloadMarker    = 0xFF
	extendedByte     = 13
	extendedTwoBytes = 14
	reservedNibble   = 15
	extendedByteBase = 13
	extendedWordBase = 269
)

// Codec encodes/decodes Message values. The engine's default construction wires
// RFC7252Codec, but callers may inject an alternate implementation (e.g. a
// deterministic test fake) through core.WithCodec, an EngineOption that
// core.NewEngine and core.NewEndpoint accept.
type Codec interface {
	Encode(m coap.Message) ([]byte, error)
	Decode(data []byte, peer string) (coap.Message, error)
}

// RFC7252Codec is the default Codec: the plain RFC 7252 binary format with no
// DTLS, no proxying, and no application-specific option semantics beyond the
// registered option numbers in message.go.
type RFC7252Codec struct{}

func NewCodec() *RFC7252Codec {
	return &RFC7252Codec{}
}

func (RFC7252Codec) Encode(m coap.Message) ([]byte, error) {
	if len(m.Token) > 8 {
		return nil, fmt.Errorf("coap: token length %d exceeds 8 bytes", len(m.Token))
	}

	out := make([]byte, 4, 4+len(m.Token)+len(m.Payload)+16)
	out[0] = byte(version<<6) | byte(m.Type)<<4 | byte(len(m.Token))
	out[1] = byte(m.Code)
	binary.BigEndian.PutUint16(out[2:4], m.MessageID)
	out = append(out, m.Token...)

	options := make([]coap.Option, len(m.Options))
	copy(options, m.Options)
	sort.SliceStable(options, func(i, j int) bool {
		return options[i].Number < options[j].Number
	})

	var previous uint16
	for _, opt := range options {
		delta := uint16(opt.Number) - previous
		previous = uint16(opt.Number)

		deltaNibble, deltaExt := splitNibble(delta)
		lengthNibble, lengthExt := splitNibble(uint16(len(opt.Value)))

		out = append(out, byte(deltaNibble<<4)|byte(lengthNibble))
		out = append(out, deltaExt...)
		out = append(out, lengthExt...)
		out = append(out, opt.Value...)
	}

	if len(m.Payload) > 0 {
		out = append(out, payloadMarker)
		out = append(out, m.Payload...)
	}

	return out, nil
}

func splitNibble(value uint16) (nibble byte, extended []byte) {
	switch {
	case value < extendedByte:
		return byte(value), nil
	case value < extendedWordBase:
		return extendedByte, []byte{byte(value - extendedByteBase)}
	default:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, value-extendedWordBase)
		return extendedTwoBytes, buf
	}
}

// Decode parses one datagram. Every failure wraps coap.ErrDecode.
func (RFC7252Codec) Decode(data []byte, peer string) (msg coap.Message, err error) {
	defer func() {
		if err != nil {
			err = coap.DecodeError(err)
		}
	}()

	if len(data) < 4 {
		return coap.Message{}, fmt.Errorf("coap: datagram too short (%d bytes)", len(data))
	}

	ver := data[0] >> 6
	if ver != version {
		return coap.Message{}, fmt.Errorf("coap: unsupported version %d", ver)
	}

	typ := coap.Type((data[0] >> 4) & 0x3)
	tkl := int(data[0] & 0x0f)
	if tkl > 8 {
		return coap.Message{}, fmt.Errorf("coap: reserved token length %d", tkl)
	}

	code := coap.Code(data[1])
	messageID := binary.BigEndian.Uint16(data[2:4])

	offset := 4
	if len(data) < offset+tkl {
		return coap.Message{}, fmt.Errorf("coap: truncated token")
	}
	token := coap.Token(append([]byte(nil), data[offset:offset+tkl]...))
	offset += tkl

	var options []coap.Option
	var previous uint16
	for offset < len(data) {
		if data[offset] == payloadMarker {
			offset++
			break
		}

		deltaNibble := uint16(data[offset] >> 4)
		lengthNibble := uint16(data[offset] & 0x0f)
		offset++

		delta, newOffset, err := readExtended(data, offset, deltaNibble)
		if err != nil {
			return coap.Message{}, err
		}
		offset = newOffset

		length, newOffset, err := readExtended(data, offset, lengthNibble)
		if err != nil {
			return coap.Message{}, err
		}
		offset = newOffset

		if len(data) < offset+int(length) {
			return coap.Message{}, fmt.Errorf("coap: truncated option value")
		}
		value := append([]byte(nil), data[offset:offset+int(length)]...)
		offset += int(length)

		previous += delta
		options = append(options, coap.Option{Number: coap.OptionNumber(previous), Value: value})
	}

	var payload []byte
	if offset < len(data) {
		payload = append([]byte(nil), data[offset:]...)
	}

	return coap.Message{
		Type:      typ,
		Code:      code,
		MessageID: messageID,
		Token:     token,
		Options:   options,
		Payload:   payload,
		Peer:      peer,
	}, nil
}

func readExtended(data []byte, offset int, nibble uint16) (value uint16, newOffset int, err error) {
	switch nibble {
	case reservedNibble:
		return 0, offset, fmt.Errorf("coap: reserved option nibble value")
	case extendedByte:
		if len(data) < offset+1 {
			return 0, offset, fmt.Errorf("coap: truncated extended option byte")
		}
		return extendedByteBase + uint16(data[offset]), offset + 1, nil
	case extendedTwoBytes:
		if len(data) < offset+2 {
			return 0, offset, fmt.Errorf("coap: truncated extended option word")
		}
		return extendedWordBase + binary.BigEndian.Uint16(data[offset:offset+2]), offset + 2, nil
	default:
		return nibble, offset, nil
	}
}

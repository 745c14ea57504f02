package coap

import (
	"context"
	"errors"
	"time"

	"github.com/jabolina/go-coap/pkg/coap/core"
	"github.com/jabolina/go-coap/pkg/coap/definition"
)

// Client is the request driver: it builds requests from method + URI +
// options + payload, applies the default type and early blockwise size, and
// awaits the response or invokes success/failure callbacks, using the same
// fulfillable-channel pattern Exchange uses internally for request/response
// correlation.
type Client struct {
	endpoint *core.Endpoint
	log      definition.Logger

	defaultType Type
	blockSize   int
	timeout     time.Duration
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithDefaultType sets the message type new requests use when the caller
// does not ask for one explicitly. Defaults to CON.
func WithDefaultType(t Type) ClientOption {
	return func(c *Client) { c.defaultType = t }
}

// WithBlockwiseSize sets the early Block2 negotiation size. 0 (the default)
// means late negotiation: no Block2 option on the first request. Any other
// value is normalized down to the nearest valid power-of-two size.
func WithBlockwiseSize(size int) ClientOption {
	return func(c *Client) { c.blockSize = NormalizeBlockSize(size) }
}

// WithTimeout sets the default synchronous wait cap. The zero value means
// infinite (bounded only by ctx).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger overrides the client's logger.
func WithLogger(log definition.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient builds a Client driving requests through endpoint.
func NewClient(endpoint *core.Endpoint, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		log:         definition.NoopLogger{},
		defaultType: TypeConfirmable,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestOption customizes a single request's options/payload.
type RequestOption func(*Message)

// WithPayload attaches a payload and its Content-Format option.
func WithPayload(payload []byte, contentFormat Code) RequestOption {
	return func(m *Message) {
		m.Payload = payload
		m.AddOption(OptionContentFormat, []byte{byte(contentFormat)})
	}
}

// WithAccept sets the Accept option, telling the peer which content-format
// the caller can parse.
func WithAccept(format Code) RequestOption {
	return func(m *Message) {
		m.AddOption(OptionAccept, []byte{byte(format)})
	}
}

// WithIfMatch attaches one If-Match option per ETag.
func WithIfMatch(etags ...[]byte) RequestOption {
	return func(m *Message) {
		for _, tag := range etags {
			m.AddOption(OptionIfMatch, tag)
		}
	}
}

// WithIfNoneMatch attaches an empty-valued If-None-Match option.
func WithIfNoneMatch() RequestOption {
	return func(m *Message) {
		m.AddOption(OptionIfNoneMatch, nil)
	}
}

func (c *Client) buildRequest(code Code, typ Type, uri *RequestURI, opts ...RequestOption) Message {
	m := Message{
		Type: typ,
		Code: code,
		Peer: uri.Address(),
	}
	uri.applyTo(&m)
	if c.blockSize > 0 {
		m.AddOption(OptionBlock2, encodeBlockOption(0, false, c.blockSize))
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// encodeBlockOption packs NUM/M/SZX into the 3-byte-max Block1/Block2 value
// format (RFC 7959 §2.2): NUM in the high bits, the more-flag M, and SZX the
// base-2 log of size minus 4.
func encodeBlockOption(num uint32, more bool, size int) []byte {
	szx := 0
	for s := 16; s < size; s <<= 1 {
		szx++
	}
	mFlag := 0
	if more {
		mFlag = 1
	}
	value := num<<4 | uint32(mFlag)<<3 | uint32(szx)
	switch {
	case value <= 0xff:
		return []byte{byte(value)}
	case value <= 0xffff:
		return []byte{byte(value >> 8), byte(value)}
	default:
		return []byte{byte(value >> 16), byte(value >> 8), byte(value)}
	}
}

func (c *Client) waitTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// do sends m and waits for its result (or the client's default timeout).
func (c *Client) do(ctx context.Context, m Message, maxRetransmit int) (*Message, error) {
	ex, err := c.endpoint.Engine.Send(&m, core.SendOptions{MaxRetransmit: maxRetransmit})
	if err != nil {
		return nil, err
	}
	waitCtx, cancel := c.waitTimeout(ctx)
	defer cancel()

	resp, err := ex.Await(waitCtx)
	if err != nil {
		ex.Cancel()
		return nil, err
	}
	return resp, nil
}

// AsyncRequest is the cancelable handle returned by the *Async request
// variants.
type AsyncRequest struct {
	exchange *core.Exchange
}

// Result blocks until the request completes or ctx is done.
func (a *AsyncRequest) Result(ctx context.Context) (*Message, error) {
	return a.exchange.Await(ctx)
}

// Cancel withdraws the request: stops retransmission, releases the
// exchange, and causes Result to eventually return ErrCanceled.
func (a *AsyncRequest) Cancel() {
	a.exchange.Cancel()
}

func (c *Client) sendAsync(m Message, maxRetransmit int) (*AsyncRequest, error) {
	ex, err := c.endpoint.Engine.Send(&m, core.SendOptions{MaxRetransmit: maxRetransmit})
	if err != nil {
		return nil, err
	}
	return &AsyncRequest{exchange: ex}, nil
}

func (c *Client) parseTarget(uri string) (*RequestURI, error) {
	return ParseURI(uri)
}

// Send is the low-level synchronous primitive the Get/Post/Put/Delete
// convenience methods build on. maxRetransmit overrides the engine's
// configured retransmit budget for this one exchange; pass -1 to use the
// configured default.
func (c *Client) Send(ctx context.Context, m Message, maxRetransmit int) (*Message, error) {
	return c.do(ctx, m, maxRetransmit)
}

// Get issues a synchronous GET.
func (c *Client) Get(ctx context.Context, uri string, opts ...RequestOption) (*Message, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}
	m := c.buildRequest(CodeGET, c.defaultType, target, opts...)
	return c.do(ctx, m, -1)
}

// GetAsync issues an asynchronous GET.
func (c *Client) GetAsync(uri string, opts ...RequestOption) (*AsyncRequest, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}
	m := c.buildRequest(CodeGET, c.defaultType, target, opts...)
	return c.sendAsync(m, -1)
}

// Post issues a synchronous POST with payload.
func (c *Client) Post(ctx context.Context, uri string, payload []byte, contentFormat Code, opts ...RequestOption) (*Message, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}
	opts = append([]RequestOption{WithPayload(payload, contentFormat)}, opts...)
	m := c.buildRequest(CodePOST, c.defaultType, target, opts...)
	return c.do(ctx, m, -1)
}

// PostAsync issues an asynchronous POST. It builds and sends exactly one
// request from the caller-supplied uri/payload.
func (c *Client) PostAsync(uri string, payload []byte, contentFormat Code, opts ...RequestOption) (*AsyncRequest, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}
	opts = append([]RequestOption{WithPayload(payload, contentFormat)}, opts...)
	m := c.buildRequest(CodePOST, c.defaultType, target, opts...)
	return c.sendAsync(m, -1)
}

// Put issues a synchronous PUT with payload.
func (c *Client) Put(ctx context.Context, uri string, payload []byte, contentFormat Code, opts ...RequestOption) (*Message, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}
	opts = append([]RequestOption{WithPayload(payload, contentFormat)}, opts...)
	m := c.buildRequest(CodePUT, c.defaultType, target, opts...)
	return c.do(ctx, m, -1)
}

// PutAsync issues an asynchronous PUT.
func (c *Client) PutAsync(uri string, payload []byte, contentFormat Code, opts ...RequestOption) (*AsyncRequest, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}
	opts = append([]RequestOption{WithPayload(payload, contentFormat)}, opts...)
	m := c.buildRequest(CodePUT, c.defaultType, target, opts...)
	return c.sendAsync(m, -1)
}

// Delete issues a synchronous DELETE.
func (c *Client) Delete(ctx context.Context, uri string, opts ...RequestOption) (*Message, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}
	m := c.buildRequest(CodeDELETE, c.defaultType, target, opts...)
	return c.do(ctx, m, -1)
}

// DeleteAsync issues an asynchronous DELETE.
func (c *Client) DeleteAsync(uri string, opts ...RequestOption) (*AsyncRequest, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}
	m := c.buildRequest(CodeDELETE, c.defaultType, target, opts...)
	return c.sendAsync(m, -1)
}

// Ping sends an empty CON and reports whether the peer answered with a RST,
// the RFC 7252 §4.3 idiom. RST is success, a timeout with no reply is
// failure, and any transport error also fails the ping without propagating
// to the caller — Ping never returns an error.
func (c *Client) Ping(ctx context.Context, uri string) bool {
	target, err := c.parseTarget(uri)
	if err != nil {
		return false
	}
	m := Message{Type: TypeConfirmable, Code: CodeEmpty, Peer: target.Address()}
	_, err = c.do(ctx, m, -1)
	return errors.Is(err, ErrRejected)
}

// Discover fetches /.well-known/core and parses it as link-format. An
// exhausted retransmit budget surfaces as ErrTimedOut; ctx or the client's
// wait cap expiring first surfaces as the context's error. A response with
// the wrong content-format
// surfaces as an empty, non-nil slice with a nil error.
func (c *Client) Discover(ctx context.Context, uri string, query string) ([]WebLink, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}
	target.Paths = []string{".well-known", "core"}
	if query != "" {
		target.Queries = []string{query}
	} else {
		target.Queries = nil
	}

	m := c.buildRequest(CodeGET, c.defaultType, target, WithAccept(ContentFormatLinkFormat))
	resp, err := c.do(ctx, m, -1)
	if err != nil {
		return nil, err
	}

	cf, ok := resp.GetOption(OptionContentFormat)
	if !ok || len(cf.Value) == 0 || Code(cf.Value[0]) != ContentFormatLinkFormat {
		return []WebLink{}, nil
	}
	return ParseLinkFormat(resp.Payload)
}

// Observe registers an observe relation: a GET with Observe=0. Each
// subsequent notification is passed through the orderer and, if fresh,
// invokes notify. errorCb is invoked once, on the relation's terminal failure.
func (c *Client) Observe(ctx context.Context, uri string, accept Code, notify func(Message), errorCb func(error), opts ...RequestOption) (*ObserveRelation, error) {
	target, err := c.parseTarget(uri)
	if err != nil {
		return nil, err
	}

	requestOpts := append([]RequestOption{}, opts...)
	if accept != 0 {
		requestOpts = append(requestOpts, WithAccept(accept))
	}
	m := c.buildRequest(CodeGET, c.defaultType, target, requestOpts...)
	m.AddOption(OptionObserve, []byte{0})

	ex, err := c.endpoint.Engine.Send(&m, core.SendOptions{
		MaxRetransmit: -1,
		Observe:       true,
		Notify:        notify,
		Error:         errorCb,
	})
	if err != nil {
		return nil, err
	}

	return &ObserveRelation{
		client:   c,
		exchange: ex,
		request:  m,
	}, nil
}

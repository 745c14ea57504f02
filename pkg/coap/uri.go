package coap

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// RequestURI is a parsed coap:// URI: the destination address plus the ordered
// Uri-Path/Uri-Query option values it maps to.
type RequestURI struct {
	Scheme  string
	Host    string
	Port    string
	Queries []string
	Paths   []string
}

// Address returns the host:port destination for the datagram channel.
func (u RequestURI) Address() string {
	return net.JoinHostPort(u.Host, u.Port)
}

// ParseURI parses a coap://host[:port]/path[?query] URI. Each path segment and
// query token becomes a separate Uri-Path/Uri-Query option instance when the
// request is built.
func ParseURI(raw string) (*RequestURI, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("coap: invalid uri %q: %w", raw, err)
	}

	switch parsed.Scheme {
	case "coap", "coaps":
	default:
		return nil, fmt.Errorf("coap: unsupported scheme %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("coap: uri %q has no host", raw)
	}

	port := parsed.Port()
	if port == "" {
		port = "5683"
	}

	var paths []string
	trimmed := strings.Trim(parsed.EscapedPath(), "/")
	if trimmed != "" {
		for _, segment := range strings.Split(trimmed, "/") {
			unescaped, err := url.PathUnescape(segment)
			if err != nil {
				return nil, fmt.Errorf("coap: invalid path segment %q: %w", segment, err)
			}
			paths = append(paths, unescaped)
		}
	}

	var queries []string
	if parsed.RawQuery != "" {
		queries = strings.Split(parsed.RawQuery, "&")
	}

	return &RequestURI{
		Scheme:  parsed.Scheme,
		Host:    host,
		Port:    port,
		Queries: queries,
		Paths:   paths,
	}, nil
}

// applyTo appends Uri-Path and Uri-Query options to the message, one instance
// per segment/token, in order.
func (u RequestURI) applyTo(m *Message) {
	for _, segment := range u.Paths {
		m.AddOption(OptionUriPath, []byte(segment))
	}
	for _, query := range u.Queries {
		m.AddOption(OptionUriQuery, []byte(query))
	}
}

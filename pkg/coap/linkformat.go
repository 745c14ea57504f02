package coap

import "strings"

// WebLink is one resource description parsed out of a RFC 6690 link-format
// payload, as returned from GET /.well-known/core.
type WebLink struct {
	Target     string
	Attributes map[string]string
}

// ParseLinkFormat parses a content-format 40 payload into a sequence of
// WebLink entries. Returns an empty, non-nil slice for an empty payload.
func ParseLinkFormat(payload []byte) ([]WebLink, error) {
	links := make([]WebLink, 0)
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return links, nil
	}

	for _, entry := range splitTopLevel(text, ',') {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		link, err := parseLinkEntry(entry)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func parseLinkEntry(entry string) (WebLink, error) {
	parts := splitTopLevel(entry, ';')
	target := strings.TrimSpace(parts[0])
	target = strings.TrimPrefix(target, "<")
	target = strings.TrimSuffix(target, ">")

	attrs := make(map[string]string)
	for _, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if key, value, ok := strings.Cut(raw, "="); ok {
			attrs[key] = strings.Trim(value, `"`)
		} else {
			attrs[raw] = ""
		}
	}

	return WebLink{Target: target, Attributes: attrs}, nil
}

// splitTopLevel splits on sep while ignoring occurrences inside a <...>
// bracket pair, since a link-format target may itself contain commas.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		default:
			if s[i] == sep && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

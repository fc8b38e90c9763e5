package storage

import (
	"net/url"
	"strings"
)

// Layout is a versioned key-to-location scheme.
type Layout int

const (
	// LayoutRaw joins key segments with "/" as-is. Segments containing "/"
	// or dot names collide or escape the root, so it is only kept to read
	// and relocate old records.
	LayoutRaw Layout = 1
	// LayoutEscaped path-escapes every segment.
	LayoutEscaped Layout = 2

	CurrentLayout = LayoutEscaped
)

// Locate derives the location of key.
func (l Layout) Locate(key []string) string {
	switch l {
	case LayoutRaw:
		return strings.Join(key, "/")
	default:
		parts := make([]string, len(key))
		for i, seg := range key {
			parts[i] = escapeSegment(seg)
		}
		return strings.Join(parts, "/")
	}
}

func (l Layout) Valid() bool { return l == LayoutRaw || l == LayoutEscaped }

func escapeSegment(seg string) string {
	switch seg {
	case "":
		return "%00"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(seg)
}

// Parse reverses Locate. It reports false for locations the layout could
// not have produced.
func (l Layout) Parse(location string) ([]string, bool) {
	if location == "" {
		return nil, false
	}
	parts := strings.Split(location, "/")
	if l == LayoutRaw {
		return parts, true
	}
	for i, p := range parts {
		if p == "%00" {
			parts[i] = ""
			continue
		}
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, false
		}
		parts[i] = seg
	}
	return parts, true
}

// Package delta reconstructs a single monotonically-growing message text
// from incrementally streamed fragments. The backend occasionally resends
// the tail of the previous fragment as a prefix of the next one; Merge
// strips that overlap so the accumulated text never duplicates.
package delta

import (
	"strings"
)

// Merge appends fragment to accumulated, removing from the start of the
// fragment the longest prefix that already appears as a suffix of
// accumulated. Pure and deterministic; an empty fragment is a no-op and a
// full duplicate resend leaves accumulated unchanged.
func Merge(accumulated, fragment string) string {
	fragment = normalize(fragment)
	if fragment == "" {
		return accumulated
	}
	if accumulated == "" {
		return fragment
	}

	max := len(accumulated)
	if len(fragment) < max {
		max = len(fragment)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(accumulated, fragment[:k]) {
			return accumulated + fragment[k:]
		}
	}

	// No overlap. If the fragment opens a markdown block construct the
	// accumulated text needs a line break first, otherwise the construct
	// renders inline and the markdown is malformed.
	if startsBlockConstruct(fragment) && !strings.HasSuffix(accumulated, "\n") {
		return accumulated + "\n" + fragment
	}
	return accumulated + fragment
}

// normalize strips zero-width artifacts the generation pipeline leaks into
// fragments and converts non-breaking spaces to regular spaces.
func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			return -1
		case '\u00a0':
			return ' '
		}
		return r
	}, s)
}

// startsBlockConstruct reports whether s begins a markdown block construct:
// a heading, a list item, or a blockquote.
func startsBlockConstruct(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '#':
		// Up to six '#' followed by a space.
		i := 0
		for i < len(s) && i < 6 && s[i] == '#' {
			i++
		}
		return i < len(s) && s[i] == ' '
	case '-', '*', '+':
		return len(s) > 1 && s[1] == ' '
	case '>':
		return len(s) > 1 && s[1] == ' '
	}
	// Ordered list item: digits followed by ". ".
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i+1 < len(s) && s[i] == '.' && s[i+1] == ' '
}

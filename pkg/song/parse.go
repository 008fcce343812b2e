package song

import (
	"strings"
)

const (
	openMarker  = "[lyrics]"
	closeMarker = "[/lyrics]"
)

// Parse extracts a song from a loosely tagged text blob, typically a chat
// reply. It returns nil when no song is present: absence is an expected
// outcome, not an error. Only the first [lyrics]...[/lyrics] region is
// considered; anything outside it is ignored.
//
// The parser is an explicit tokenizer rather than a pile of regexps: seek the
// region, peel an optional title line, split into bracket-tag segments, then
// split each segment into label and lines.
func Parse(raw string) *Song {
	content, ok := region(raw)
	if !ok {
		return nil
	}
	content = strings.TrimSpace(content)

	title := DefaultTitle
	if t, rest, ok := cutTitle(content); ok {
		title = t
		content = rest
	}

	var parts []Part
	for _, seg := range segments(content) {
		parts = append(parts, part(seg))
	}
	s := &Song{Title: title, Parts: parts}
	if !s.Valid() {
		return nil
	}
	return s
}

// region returns the text between the first opening marker and the first
// closing marker after it, matching both case-insensitively. Only ASCII is
// folded so that byte offsets into raw stay aligned.
func region(raw string) (string, bool) {
	lower := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, raw)
	start := strings.Index(lower, openMarker)
	if start < 0 {
		return "", false
	}
	start += len(openMarker)
	end := strings.Index(lower[start:], closeMarker)
	if end < 0 {
		return "", false
	}
	return raw[start : start+end], true
}

// cutTitle extracts a "Title:" header from the first line of content. The
// prefix is matched case-insensitively; a header with nothing after the colon
// is left in place.
func cutTitle(content string) (string, string, bool) {
	first, rest, _ := strings.Cut(content, "\n")
	const prefix = "title:"
	if len(first) < len(prefix) || !strings.EqualFold(first[:len(prefix)], prefix) {
		return "", "", false
	}
	title := strings.TrimSpace(first[len(prefix):])
	if title == "" {
		return "", "", false
	}
	return title, strings.TrimSpace(rest), true
}

// segments splits content at every line that begins with an opening bracket.
// Each segment starts at a bracket-tag line and runs until the next one or
// the end of content; text before the first tag forms a segment of its own.
// Segments that are empty after trimming are discarded.
func segments(content string) []string {
	var segs []string
	var cur []string
	flush := func() {
		seg := strings.TrimSpace(strings.Join(cur, "\n"))
		if seg != "" {
			segs = append(segs, seg)
		}
		cur = nil
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "[") {
			flush()
		}
		cur = append(cur, line)
	}
	flush()
	return segs
}

// part splits a segment into its label and lines. The first line yields the
// label when it contains a bracket tag; the remaining lines are kept in order
// with blank lines filtered out.
func part(seg string) Part {
	lines := strings.Split(seg, "\n")
	label, ok := tag(lines[0])
	if !ok {
		label = DefaultLabel
	}
	var kept []string
	for _, l := range lines[1:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		kept = append(kept, l)
	}
	return Part{Label: label, Lines: kept}
}

// tag returns the trimmed inner text of the first [ ] pair in line.
func tag(line string) (string, bool) {
	i := strings.Index(line, "[")
	if i < 0 {
		return "", false
	}
	j := strings.Index(line[i+1:], "]")
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(line[i+1 : i+1+j]), true
}

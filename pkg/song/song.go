package song

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultTitle is the title given to a song that carries no "Title:" header.
const DefaultTitle = "Untitled Song"

// DefaultLabel is the label given to a part whose tag can't be extracted.
const DefaultLabel = "Part"

// ErrPartIndex is returned when a part index doesn't exist in the song.
var ErrPartIndex = errors.New("song: part index out of range")

// Song is the canonical structured representation of a song: a title plus an
// ordered sequence of labeled parts. Part order is song order and must be
// preserved through every transformation.
//
// The JSON tags match the schema sent to the structured-generation service.
type Song struct {
	Title string `json:"title"`
	Parts []Part `json:"lyrics"`
}

// Part is a labeled section of a song (verse, chorus, bridge...).
type Part struct {
	Label string   `json:"type"`
	Lines []string `json:"lines"`
}

// Valid reports whether s represents an actual song: at least one part, and
// not exactly one part with zero lines. An empty part alongside non-empty
// parts is accepted.
func (s *Song) Valid() bool {
	if s == nil || len(s.Parts) == 0 {
		return false
	}
	if len(s.Parts) == 1 && len(s.Parts[0].Lines) == 0 {
		return false
	}
	return true
}

// Clone returns a deep copy of s.
func (s *Song) Clone() *Song {
	if s == nil {
		return nil
	}
	parts := make([]Part, len(s.Parts))
	for i, p := range s.Parts {
		lines := make([]string, len(p.Lines))
		copy(lines, p.Lines)
		parts[i] = Part{Label: p.Label, Lines: lines}
	}
	return &Song{Title: s.Title, Parts: parts}
}

// Equal reports whether s and o are structurally identical.
func (s *Song) Equal(o *Song) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Title != o.Title || len(s.Parts) != len(o.Parts) {
		return false
	}
	for i, p := range s.Parts {
		q := o.Parts[i]
		if p.Label != q.Label || len(p.Lines) != len(q.Lines) {
			return false
		}
		for j, l := range p.Lines {
			if l != q.Lines[j] {
				return false
			}
		}
	}
	return true
}

// ReplaceTitle returns a copy of s with the title replaced.
func (s *Song) ReplaceTitle(title string) *Song {
	c := s.Clone()
	c.Title = title
	return c
}

// ReplacePartLines returns a copy of s with the lines of part i replaced.
// It fails with ErrPartIndex if i is not a valid part index.
func (s *Song) ReplacePartLines(i int, lines []string) (*Song, error) {
	if s == nil || i < 0 || i >= len(s.Parts) {
		return nil, fmt.Errorf("%w: %d", ErrPartIndex, i)
	}
	c := s.Clone()
	c.Parts[i].Lines = make([]string, len(lines))
	copy(c.Parts[i].Lines, lines)
	return c, nil
}

// Format returns the canonical flattened text of the song: a "Title:" header
// followed by each part as a bracket tag and its lines.
func (s *Song) Format() string {
	return fmt.Sprintf("Title: %s\n\n%s", s.Title, s.FormatBody())
}

// FormatBody returns the bracket-tag serialization of the parts only.
func (s *Song) FormatBody() string {
	var parts []string
	for _, p := range s.Parts {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", p.Label, strings.Join(p.Lines, "\n")))
	}
	return strings.Join(parts, "\n\n")
}

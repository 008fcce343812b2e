// Package studio implements the song workshop session: generation, iterative
// edits over a transcript, direct field edits, cover art and submission. A
// session keeps the originally generated document alongside the current one
// so edits can always be reverted.
package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/imanolz/songstudio/pkg/oracle"
	"github.com/imanolz/songstudio/pkg/release"
	"github.com/imanolz/songstudio/pkg/song"
	"github.com/imanolz/songstudio/pkg/songwriter"
)

var (
	// ErrBusy is returned while another collaborator call is in flight.
	ErrBusy = errors.New("studio: session is busy")
	// ErrState is returned when an operation isn't valid in the current state.
	ErrState = errors.New("studio: operation not valid in current state")
	// ErrNoSong is returned by operations that need a song in the session.
	ErrNoSong = errors.New("studio: no song in session")
)

// State is the observable session state.
type State string

const (
	Empty      State = "empty"
	Generating State = "generating"
	Ready      State = "ready"
	Editing    State = "editing"
)

// Action labels for the generate control.
const (
	LabelRegenerate  = "Regenerate"
	LabelGenerateNew = "Generate New"
)

const (
	generateGreeting = "Here's what I came up with! Feel free to ask for changes."
	importGreeting   = "Here's the song from our chat! Feel free to ask for changes."
	editAck          = "How's this?"
	editApology      = "Sorry, I got a little stuck on that edit. Could you try rephrasing?"
)

// Turn is one entry of the edit transcript.
type Turn struct {
	Role oracle.Role `json:"role"`
	Text string      `json:"text"`
}

// Publisher posts a finished submission somewhere external.
type Publisher interface {
	Publish(ctx context.Context, sub release.Submission) error
}

type Config struct {
	Debug     bool
	Writer    *songwriter.Writer
	Oracle    oracle.Interface
	Publisher Publisher
}

// Session is safe for concurrent use. Collaborator calls run with the lock
// released; only one may be in flight at a time.
type Session struct {
	writer    *songwriter.Writer
	oracle    oracle.Interface
	publisher Publisher

	mu         sync.Mutex
	state      State
	busy       bool
	current    *song.Song
	original   *song.Song
	lastParams *songwriter.Params
	transcript []Turn
	cover      []byte
	submitted  bool
}

func New(cfg *Config) *Session {
	return &Session{
		writer:    cfg.Writer,
		oracle:    cfg.Oracle,
		publisher: cfg.Publisher,
		state:     Empty,
	}
}

// Generate creates a fresh song from the parameters. Entering the generation
// clears the edit transcript, the cover art and the submission flag; the
// documents themselves are only replaced on success, so a failed generation
// keeps the previous song visible.
func (s *Session) Generate(ctx context.Context, params songwriter.Params) (*song.Song, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	prev := s.state
	s.busy = true
	s.state = Generating
	s.transcript = nil
	s.cover = nil
	s.submitted = false
	s.mu.Unlock()

	doc, err := s.writer.Generate(ctx, params)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		s.state = prev
		return nil, err
	}
	p := params
	s.install(doc, &p, generateGreeting)
	return doc.Clone(), nil
}

// Import installs a song produced elsewhere, typically handed off from a chat
// session. It behaves like a successful generation except the parameter
// fingerprint stays unset.
func (s *Session) Import(doc *song.Song) error {
	if !doc.Valid() {
		return songwriter.ErrInvalidSong
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.install(doc, nil, importGreeting)
	return nil
}

// install must be called with the lock held.
func (s *Session) install(doc *song.Song, params *songwriter.Params, greeting string) {
	s.current = doc.Clone()
	s.original = doc.Clone()
	s.lastParams = params
	s.transcript = []Turn{{Role: oracle.Assistant, Text: greeting}}
	s.cover = nil
	s.submitted = false
	s.state = Ready
}

// Edit rewrites the current song per the instruction. The instruction is
// recorded as a user turn either way; a failed edit appends an apology and
// leaves the document untouched.
func (s *Session) Edit(ctx context.Context, instruction string) (*song.Song, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.state != Ready || s.current == nil {
		s.mu.Unlock()
		return nil, ErrState
	}
	s.busy = true
	s.state = Editing
	s.transcript = append(s.transcript, Turn{Role: oracle.User, Text: instruction})
	current := s.current.Clone()
	s.mu.Unlock()

	doc, err := s.writer.Edit(ctx, current, instruction)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.state = Ready
	if err != nil {
		s.transcript = append(s.transcript, Turn{Role: oracle.Assistant, Text: editApology})
		return nil, err
	}
	s.current = doc.Clone()
	s.transcript = append(s.transcript, Turn{Role: oracle.Assistant, Text: editAck})
	return doc.Clone(), nil
}

// Revert restores the originally generated document. Only valid once the
// current document has diverged from it.
func (s *Session) Revert() (*song.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, ErrBusy
	}
	if s.state != Ready || s.current == nil {
		return nil, ErrState
	}
	if s.current.Equal(s.original) {
		return nil, ErrState
	}
	s.current = s.original.Clone()
	return s.current.Clone(), nil
}

// SetTitle replaces the current title. Direct edits don't touch the
// transcript or the original document.
func (s *Session) SetTitle(title string) (*song.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, ErrBusy
	}
	if s.state != Ready || s.current == nil {
		return nil, ErrState
	}
	s.current = s.current.ReplaceTitle(title)
	return s.current.Clone(), nil
}

// SetPartLines replaces the lines of one part of the current document.
func (s *Session) SetPartLines(index int, lines []string) (*song.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, ErrBusy
	}
	if s.state != Ready || s.current == nil {
		return nil, ErrState
	}
	doc, err := s.current.ReplacePartLines(index, lines)
	if err != nil {
		return nil, fmt.Errorf("studio: couldn't edit part: %w", err)
	}
	s.current = doc
	return s.current.Clone(), nil
}

// ActionLabel reports how the generate control should be labelled for the
// given parameters.
func (s *Session) ActionLabel(params songwriter.Params) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastParams != nil && *s.lastParams == params {
		return LabelRegenerate
	}
	return LabelGenerateNew
}

// HasDiverged reports whether the current document differs from the original.
func (s *Session) HasDiverged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.original == nil {
		return false
	}
	return !s.current.Equal(s.original)
}

// GenerateCover creates album art from a free-text description, falling back
// to the song title when the description is empty. The cover is cleared by
// the next generation or import.
func (s *Session) GenerateCover(ctx context.Context, description string) ([]byte, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.current == nil {
		s.mu.Unlock()
		return nil, ErrNoSong
	}
	s.busy = true
	theme := strings.TrimSpace(description)
	if theme == "" {
		theme = s.current.Title
	}
	s.mu.Unlock()

	prompt := fmt.Sprintf("Album cover art for a song. Cinematic, high detail, photorealistic. The theme is: %q", theme)
	img, err := s.oracle.GenerateImage(ctx, prompt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		return nil, fmt.Errorf("studio: couldn't generate cover: %w", err)
	}
	s.cover = img
	return append([]byte(nil), img...), nil
}

// Submit posts the current song, with the cover when present, to the
// configured publisher and marks the session submitted.
func (s *Session) Submit(ctx context.Context, name, email string) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoSong
	}
	if s.publisher == nil {
		s.mu.Unlock()
		return release.ErrMissingEndpoint
	}
	s.busy = true
	sub := release.Submission{
		Name:   name,
		Email:  email,
		Title:  s.current.Title,
		Lyrics: s.current.FormatBody(),
		Cover:  append([]byte(nil), s.cover...),
	}
	s.mu.Unlock()

	err := s.publisher.Publish(ctx, sub)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		return fmt.Errorf("studio: couldn't submit song: %w", err)
	}
	s.submitted = true
	return nil
}

// State returns the observable session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns a copy of the current document, or nil when empty.
func (s *Session) Current() *song.Song {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Original returns a copy of the originally generated document.
func (s *Session) Original() *song.Song {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.original.Clone()
}

// Transcript returns a copy of the edit conversation.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.transcript...)
}

// Cover returns a copy of the generated cover art, or nil.
func (s *Session) Cover() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cover == nil {
		return nil
	}
	return append([]byte(nil), s.cover...)
}

// Submitted reports whether the current song has been submitted.
func (s *Session) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

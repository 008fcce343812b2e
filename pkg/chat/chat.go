// Package chat implements the in-character conversation session with the
// artist persona. Replies that contain a marked-up song get the parsed
// document attached so it can be exported to a studio session.
package chat

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"

	"github.com/imanolz/songstudio/pkg/oracle"
	"github.com/imanolz/songstudio/pkg/song"
)

var (
	// ErrBusy is returned while a send is outstanding.
	ErrBusy = errors.New("chat: session is busy")
	// ErrNoSong is returned when a turn has no song attached.
	ErrNoSong = errors.New("chat: turn has no song")
)

const apology = "Sorry, I'm having a little trouble connecting. Please try again in a moment."

// Turn is one conversation entry. Song is non-nil when the assistant reply
// contained a complete marked-up song.
type Turn struct {
	Role oracle.Role `json:"role"`
	Text string      `json:"text"`
	Song *song.Song  `json:"song,omitempty"`
}

type Config struct {
	Debug   bool
	Oracle  oracle.Interface
	Persona *Persona
}

// Session is safe for concurrent use; sends are strictly serialized.
type Session struct {
	oracle  oracle.Interface
	persona *Persona
	debug   bool

	mu    sync.Mutex
	busy  bool
	turns []Turn
}

func New(cfg *Config) *Session {
	persona := cfg.Persona
	if persona == nil {
		persona = DefaultPersona()
	}
	return &Session{
		oracle:  cfg.Oracle,
		persona: persona,
		debug:   cfg.Debug,
	}
}

func (s *Session) log(format string, args ...any) {
	if s.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

// Greeting seeds an empty transcript with a persona greeting and returns it.
// On a non-empty transcript it is a no-op returning the first turn's text.
func (s *Session) Greeting() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) > 0 {
		return s.turns[0].Text
	}
	greeting := s.persona.Greetings[rand.Intn(len(s.persona.Greetings))]
	s.turns = append(s.turns, Turn{Role: oracle.Assistant, Text: greeting})
	return greeting
}

// Send appends the user turn, asks the collaborator for a reply with the full
// history, and appends the assistant turn. A collaborator failure is absorbed
// into an apology turn and is not an error.
func (s *Session) Send(ctx context.Context, text string) (Turn, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return Turn{}, ErrBusy
	}
	s.busy = true
	s.turns = append(s.turns, Turn{Role: oracle.User, Text: text})
	history := make([]oracle.Message, len(s.turns))
	for i, t := range s.turns {
		history[i] = oracle.Message{Role: t.Role, Text: t.Text}
	}
	s.mu.Unlock()

	reply, err := s.oracle.Chat(ctx, s.persona.SystemPrompt(), history)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	var turn Turn
	if err != nil {
		s.log("chat: send failed: %v", err)
		turn = Turn{Role: oracle.Assistant, Text: apology}
	} else {
		turn = Turn{Role: oracle.Assistant, Text: reply, Song: song.Parse(reply)}
	}
	s.turns = append(s.turns, turn)
	return copyTurn(turn), nil
}

// Turns returns a copy of the transcript.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = copyTurn(t)
	}
	return out
}

// Song returns a deep copy of the song attached to the given turn, for the
// studio handoff.
func (s *Session) Song(index int) (*song.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.turns) || s.turns[index].Song == nil {
		return nil, ErrNoSong
	}
	return s.turns[index].Song.Clone(), nil
}

// Persona returns the session's persona.
func (s *Session) Persona() *Persona {
	return s.persona
}

func copyTurn(t Turn) Turn {
	return Turn{Role: t.Role, Text: t.Text, Song: t.Song.Clone()}
}

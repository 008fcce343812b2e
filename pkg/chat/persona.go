package chat

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona defines the artist character the chat collaborator plays.
type Persona struct {
	Name      string   `yaml:"name"`
	Bio       string   `yaml:"bio"`
	Style     string   `yaml:"style"`
	Greetings []string `yaml:"greetings"`
	// Extra is appended verbatim to the system instruction.
	Extra string `yaml:"extra"`
}

// DefaultPersona returns the built-in artist used when no persona file is
// configured.
func DefaultPersona() *Persona {
	return &Persona{
		Name:  "Nova Rae",
		Bio:   "an indie singer-songwriter who grew up between small coastal towns and writes about late drives, near misses and the people who stayed",
		Style: "warm, a little wry, generous with detail, never corporate",
		Greetings: []string{
			"Hey! I've been humming something all morning. What's on your mind?",
			"Hi there! Want to write something together, or just talk music?",
			"Hey, good to see you. Got a song idea, or should I throw one out?",
		},
	}
}

// LoadPersona reads a persona definition from a yaml file. Missing optional
// fields fall back to the built-in defaults.
func LoadPersona(path string) (*Persona, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chat: couldn't read persona file: %w", err)
	}
	var p Persona
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("chat: couldn't parse persona file: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("chat: persona file %s is missing a name", path)
	}
	def := DefaultPersona()
	if p.Bio == "" {
		p.Bio = def.Bio
	}
	if p.Style == "" {
		p.Style = def.Style
	}
	if len(p.Greetings) == 0 {
		p.Greetings = def.Greetings
	}
	return &p, nil
}

// SystemPrompt assembles the system instruction, including the exact song
// formatting contract the lyrics parser understands.
func (p *Persona) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", p.Name, p.Bio)
	fmt.Fprintf(&b, "Your conversational style is %s. Stay in character at all times and keep replies conversational and reasonably short, unless you are sharing a song.\n", p.Style)
	b.WriteString(`
When you share a complete song, format it exactly like this, with no extra commentary inside the markers:
[lyrics]
Title: The Song Title
[Verse 1]
First lyric line
Second lyric line

[Chorus]
Another lyric line
[/lyrics]
Rules for the format: wrap the whole song in [lyrics] and [/lyrics] markers, start with a "Title:" line, put every section name in square brackets on its own line, and write one lyric line per line. Never use the markers for anything that is not a complete song.
`)
	if p.Extra != "" {
		b.WriteString("\n")
		b.WriteString(p.Extra)
		b.WriteString("\n")
	}
	return b.String()
}

// Package songwriter turns generation parameters and edit instructions into
// complete song documents using the structured-output capability of the
// oracle.
package songwriter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/imanolz/songstudio/pkg/oracle"
	"github.com/imanolz/songstudio/pkg/song"
)

// ErrInvalidSong is returned when the oracle reply doesn't represent a
// complete song.
var ErrInvalidSong = errors.New("songwriter: response is not a complete song")

// Params is the fingerprint of a generation request. Two requests with equal
// params are considered the same generation ("regenerate" rather than
// "generate new").
type Params struct {
	Theme           string `json:"theme"`
	Genre           string `json:"genre"`
	Mood            string `json:"mood"`
	Structure       string `json:"structure,omitempty"`
	Instrumentation string `json:"instrumentation,omitempty"`
	VocalStyle      string `json:"vocal_style,omitempty"`
}

type Config struct {
	Debug  bool
	Oracle oracle.Interface
}

type Writer struct {
	oracle oracle.Interface
	debug  bool
}

func New(cfg *Config) *Writer {
	return &Writer{
		oracle: cfg.Oracle,
		debug:  cfg.Debug,
	}
}

func (w *Writer) log(format string, args ...any) {
	if w.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

const schemaNote = `The output must be a JSON object with this exact shape and nothing else:
{"title": string, "lyrics": [{"type": string, "lines": [string]}]}
where "type" is the name of the lyric part (e.g. "Verse 1", "Chorus", "Bridge") and "lines" are its lyric lines in order.
Do not include any markdown formatting like ` + "```json" + `.`

// Generate asks the oracle for a complete new song. Any transport, schema or
// completeness failure is an error; the caller treats it as retryable.
func (w *Writer) Generate(ctx context.Context, params Params) (*song.Song, error) {
	var b strings.Builder
	b.WriteString("You are an expert songwriter.\n")
	b.WriteString("Your task is to write a complete song based on the user's request.\n")
	b.WriteString(schemaNote)
	b.WriteString(`

CRITICAL INSTRUCTIONS:
1. COMPLETE SONG: The song must be complete with a clear structure (e.g., multiple verses, a repeating chorus, a bridge, and an outro). It must feel like a finished piece of work, not a fragment.
2. NO UNFINISHED PARTS: Do not cut the song short or end abruptly. All lyrical sections (verses, choruses, etc.) must be fully written out. Do not use placeholders like "...and so on". The song needs a definitive conclusion.
3. ADEQUATE LENGTH: The total word count should typically be between 150 and 350 words to ensure a full song is created.
4. STRICT JSON: The final output must only be the JSON object, without any other text or markdown.

Request:
`)
	fmt.Fprintf(&b, "- Theme/Idea: %q\n", params.Theme)
	fmt.Fprintf(&b, "- Genre: %s\n", params.Genre)
	fmt.Fprintf(&b, "- Mood: %s\n", params.Mood)
	if params.Structure != "" {
		fmt.Fprintf(&b, "- Structure: %s\n", params.Structure)
	}
	if params.Instrumentation != "" {
		fmt.Fprintf(&b, "- Instrumentation: %s\n", params.Instrumentation)
	}
	if params.VocalStyle != "" {
		fmt.Fprintf(&b, "- Vocal Style: %s\n", params.VocalStyle)
	}
	b.WriteString("\nGenerate the complete song lyrics now.\n")

	return w.request(ctx, b.String())
}

// Edit asks the oracle for a complete replacement of the current song
// according to a free-text instruction. The current song is never mutated.
func (w *Writer) Edit(ctx context.Context, current *song.Song, instruction string) (*song.Song, error) {
	if !current.Valid() {
		return nil, ErrInvalidSong
	}
	var b strings.Builder
	b.WriteString("You are an expert songwriter and editor.\n")
	b.WriteString("Your task is to edit the provided song lyrics based on the user's instruction.\n")
	b.WriteString("The output must be a JSON object containing the complete, edited song.\n")
	b.WriteString(schemaNote)
	fmt.Fprintf(&b, "\n\nCurrent Song:\nTitle: %s\nLyrics:\n%s\n", current.Title, current.FormatBody())
	fmt.Fprintf(&b, "\nEdit Instruction: %q\n", instruction)
	b.WriteString("\nNow, provide the full, edited song in the required JSON format.\n")

	return w.request(ctx, b.String())
}

func (w *Writer) request(ctx context.Context, prompt string) (*song.Song, error) {
	w.log("songwriter: prompt %s", prompt)
	var doc song.Song
	if err := w.oracle.GenerateJSON(ctx, prompt, &doc); err != nil {
		return nil, fmt.Errorf("songwriter: couldn't generate song: %w", err)
	}
	if !doc.Valid() {
		return nil, ErrInvalidSong
	}
	if doc.Title == "" {
		doc.Title = song.DefaultTitle
	}
	return &doc, nil
}

// RandomIdea returns a short creative theme suggestion.
func (w *Writer) RandomIdea(ctx context.Context) (string, error) {
	return w.random(ctx, "Generate a creative and unique song idea or theme. Be concise, just the idea. Example: A lighthouse keeper who falls in love with the storm.")
}

// RandomStructure returns a short song structure suggestion.
func (w *Writer) RandomStructure(ctx context.Context) (string, error) {
	return w.random(ctx, "Generate a common or interesting song structure. Be concise. Example: Verse, Chorus, Verse, Bridge, Chorus, Outro.")
}

// RandomInstrumentation returns a short instrumentation suggestion.
func (w *Writer) RandomInstrumentation(ctx context.Context) (string, error) {
	return w.random(ctx, "Generate a unique and descriptive combination of musical instruments. Be concise. Example: Dreamy synth pads, a driving 808 bassline, and glitched vocal samples.")
}

// RandomVocalStyle returns a short vocal style suggestion.
func (w *Writer) RandomVocalStyle(ctx context.Context) (string, error) {
	return w.random(ctx, "Generate a descriptive vocal style. Be concise. Example: Male, melancholic, with a slight rasp.")
}

func (w *Writer) random(ctx context.Context, prompt string) (string, error) {
	reply, err := w.oracle.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("songwriter: couldn't generate suggestion: %w", err)
	}
	// The model sometimes wraps the suggestion in quotes.
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, `"`)
	reply = strings.TrimSuffix(reply, `"`)
	return reply, nil
}

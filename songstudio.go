package songstudio

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/imanolz/songstudio/pkg/chat"
	"github.com/imanolz/songstudio/pkg/openai"
	"github.com/imanolz/songstudio/pkg/release"
	"github.com/imanolz/songstudio/pkg/song"
	"github.com/imanolz/songstudio/pkg/songwriter"
)

type Config struct {
	Debug      bool
	Token      string
	Model      string
	ImageModel string
	Host       string
	Proxy      string
	Wait       time.Duration
}

func newClient(cfg *Config) (*openai.Client, error) {
	httpClient := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}
	return openai.New(&openai.Config{
		Debug:      cfg.Debug,
		Token:      cfg.Token,
		Model:      cfg.Model,
		ImageModel: cfg.ImageModel,
		Host:       cfg.Host,
		Wait:       cfg.Wait,
		Client:     httpClient,
	}), nil
}

// GenerateSong generates a song from the given parameters and writes it to
// the output file, or to stdout when no output is given.
func GenerateSong(ctx context.Context, cfg *Config, params songwriter.Params, output string) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	writer := songwriter.New(&songwriter.Config{Debug: cfg.Debug, Oracle: client})
	doc, err := writer.Generate(ctx, params)
	if err != nil {
		return fmt.Errorf("couldn't generate song: %w", err)
	}
	return writeOutput(output, doc.Format())
}

// EditSong rewrites the song in the input file per the instruction.
func EditSong(ctx context.Context, cfg *Config, input, instruction, output string) error {
	doc, err := readSong(input)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	writer := songwriter.New(&songwriter.Config{Debug: cfg.Debug, Oracle: client})
	edited, err := writer.Edit(ctx, doc, instruction)
	if err != nil {
		return fmt.Errorf("couldn't edit song: %w", err)
	}
	if output == "" {
		output = input
	}
	return writeOutput(output, edited.Format())
}

// Chat runs an interactive conversation with the artist persona on the
// terminal. Replies containing a song are also written to the output file
// when one is given.
func Chat(ctx context.Context, cfg *Config, personaFile, output string) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	persona := chat.DefaultPersona()
	if personaFile != "" {
		p, err := chat.LoadPersona(personaFile)
		if err != nil {
			return err
		}
		persona = p
	}
	session := chat.New(&chat.Config{Debug: cfg.Debug, Oracle: client, Persona: persona})
	fmt.Printf("%s: %s\n", persona.Name, session.Greeting())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			return nil
		}
		turn, err := session.Send(ctx, text)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", persona.Name, turn.Text)
		if turn.Song != nil && output != "" {
			if err := writeOutput(output, turn.Song.Format()); err != nil {
				log.Printf("couldn't save song: %v\n", err)
			} else {
				log.Printf("song saved to %s\n", output)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// GenerateCover creates album art for the song in the input file and writes
// the image to the output path. An empty description falls back to the song
// title as the theme.
func GenerateCover(ctx context.Context, cfg *Config, input, description, output string) error {
	doc, err := readSong(input)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	theme := strings.TrimSpace(description)
	if theme == "" {
		theme = doc.Title
	}
	prompt := fmt.Sprintf("Album cover art for a song. Cinematic, high detail, photorealistic. The theme is: %q", theme)
	img, err := client.GenerateImage(ctx, prompt)
	if err != nil {
		return fmt.Errorf("couldn't generate cover: %w", err)
	}
	if err := os.WriteFile(output, img, 0644); err != nil {
		return fmt.Errorf("couldn't write cover: %w", err)
	}
	log.Printf("cover saved to %s\n", output)
	return nil
}

// SubmitSong posts the song in the input file, with optional cover art, to
// the submission endpoint.
func SubmitSong(ctx context.Context, cfg *Config, endpoint, input, cover, name, email string) error {
	doc, err := readSong(input)
	if err != nil {
		return err
	}
	var img []byte
	if cover != "" {
		img, err = os.ReadFile(cover)
		if err != nil {
			return fmt.Errorf("couldn't read cover: %w", err)
		}
	}
	client := release.New(&release.Config{
		Debug:    cfg.Debug,
		Endpoint: endpoint,
		Wait:     cfg.Wait,
	})
	if err := client.Publish(ctx, release.Submission{
		Name:   name,
		Email:  email,
		Title:  doc.Title,
		Lyrics: doc.FormatBody(),
		Cover:  img,
	}); err != nil {
		return err
	}
	log.Printf("submitted %q\n", doc.Title)
	return nil
}

// readSong loads a song file, accepting both marked-up and bare documents.
func readSong(input string) (*song.Song, error) {
	b, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("couldn't read input: %w", err)
	}
	raw := string(b)
	doc := song.Parse(raw)
	if doc == nil {
		doc = song.Parse(fmt.Sprintf("[lyrics]\n%s\n[/lyrics]", raw))
	}
	if doc == nil {
		return nil, fmt.Errorf("couldn't parse song from %s", input)
	}
	return doc, nil
}

func writeOutput(output, text string) error {
	if output == "" {
		fmt.Println(text)
		return nil
	}
	if err := os.WriteFile(output, []byte(text+"\n"), 0644); err != nil {
		return fmt.Errorf("couldn't write output: %w", err)
	}
	log.Printf("song saved to %s\n", output)
	return nil
}

package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/imanolz/songstudio/pkg/oracle"
	"github.com/imanolz/songstudio/pkg/ratelimit"
)

type Config struct {
	Debug      bool
	Token      string
	Model      string
	ImageModel string
	Host       string
	Wait       time.Duration
	Client     *http.Client
}

// Client implements the oracle port on top of the OpenAI API.
type Client struct {
	client     *openai.Client
	model      string
	imageModel string
	debug      bool
	ratelimit  ratelimit.Lock
}

var _ oracle.Interface = (*Client)(nil)

func New(cfg *Config) *Client {
	wait := cfg.Wait
	if wait == 0 {
		wait = 1 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4TurboPreview
	}
	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = openai.CreateImageModelDallE3
	}
	conf := openai.DefaultConfig(cfg.Token)
	if cfg.Host != "" {
		conf.BaseURL = cfg.Host
	}
	if cfg.Client != nil {
		conf.HTTPClient = cfg.Client
	}
	return &Client{
		client:     openai.NewClientWithConfig(conf),
		model:      model,
		imageModel: imageModel,
		debug:      cfg.Debug,
		ratelimit:  ratelimit.New(wait),
	}
}

func (c *Client) log(format string, args ...any) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

// Chat sends the system instruction plus the conversation history and returns
// the assistant reply.
func (c *Client) Chat(ctx context.Context, system string, history []oracle.Message) (string, error) {
	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	}}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == oracle.Assistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	return c.complete(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
}

// Complete returns a single free-form completion for a prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
	})
}

// GenerateJSON requests a completion constrained to a JSON object and
// unmarshals the reply into out.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, out any) error {
	reply, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return err
	}
	js := trimFences(reply)
	if err := json.Unmarshal([]byte(js), out); err != nil {
		return fmt.Errorf("openai: couldn't unmarshal response (%T): %w", out, err)
	}
	return nil
}

// GenerateImage returns a generated image as JPEG-encodable raw bytes.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	c.log("openai: image %q", prompt)
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.imageModel,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: couldn't create image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: image response is empty")
	}
	b, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("openai: couldn't decode image: %w", err)
	}
	return b, nil
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	c.log("openai: completion %s", c.model)
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai: couldn't create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: completion response has no choices")
	}
	reply := resp.Choices[0].Message.Content
	c.log("openai: reply %s", reply)
	return reply, nil
}

// trimFences removes a markdown code fence the model sometimes wraps JSON in.
func trimFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

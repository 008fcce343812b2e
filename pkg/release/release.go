// Package release posts finished songs to an external submission endpoint.
package release

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imanolz/songstudio/pkg/ratelimit"
)

// ErrMissingEndpoint is returned when no submission endpoint is configured.
var ErrMissingEndpoint = errors.New("release: endpoint not configured")

type Config struct {
	Debug    bool
	Endpoint string
	Wait     time.Duration
	Client   *http.Client
}

type Client struct {
	client    *http.Client
	endpoint  string
	debug     bool
	ratelimit ratelimit.Lock
}

func New(cfg *Config) *Client {
	wait := cfg.Wait
	if wait == 0 {
		wait = 1 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 2 * time.Minute,
		}
	}
	return &Client{
		client:    client,
		endpoint:  cfg.Endpoint,
		debug:     cfg.Debug,
		ratelimit: ratelimit.New(wait),
	}
}

func (c *Client) log(format string, args ...any) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

// Submission is the payload posted to the endpoint. Lyrics carries the
// bracket-tagged flattened text, the cover is optional.
type Submission struct {
	Name      string
	Email     string
	Title     string
	Lyrics    string
	Cover     []byte
	CoverMIME string
}

// Publish form-posts the submission. The response body is not consumed
// beyond the status check.
func (c *Client) Publish(ctx context.Context, sub Submission) error {
	if c.endpoint == "" {
		return ErrMissingEndpoint
	}
	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	form := url.Values{}
	form.Set("name", sub.Name)
	form.Set("email", sub.Email)
	form.Set("title", sub.Title)
	form.Set("lyrics", sub.Lyrics)
	if len(sub.Cover) > 0 {
		mime := sub.CoverMIME
		if mime == "" {
			mime = "image/png"
		}
		form.Set("albumCover", base64.StdEncoding.EncodeToString(sub.Cover))
		form.Set("albumCoverMimeType", mime)
	}

	c.log("release: submitting %q to %s", sub.Title, c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("release: couldn't create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("release: couldn't send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("release: submission failed (%d): %s", resp.StatusCode, body)
	}
	return nil
}

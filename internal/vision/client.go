// Package vision provides an Ollama-backed multimodal model client for
// reading documents the structured and OCR paths cannot handle.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mohantyajitesh/docuextract-pro/internal/config"
)

const (
	breakerMinRequests  = 3
	breakerFailureRatio = 0.6
	breakerOpenTimeout  = 30 * time.Second
)

// Client talks to an Ollama server. Calls are rate limited and routed
// through a circuit breaker so a stuck model host fails fast instead of
// pinning every worker for the full request timeout.
type Client struct {
	baseURL     string
	visionModel string
	textModel   string
	client      *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[string]
}

// NewClient creates an Ollama client from the vision configuration.
func NewClient(cfg config.VisionConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		visionModel: cfg.Model,
		textModel:   cfg.TextModel,
		client:      &http.Client{Timeout: timeout},
	}

	if cfg.RatePerSec > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "ollama",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= breakerFailureRatio
		},
	})

	return c
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Generate sends a prompt with optional page images and returns the
// model's answer. Requests with images go to the vision model, text-only
// requests to the text model.
func (c *Client) Generate(ctx context.Context, prompt string, images [][]byte) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	model := c.visionModel
	if len(images) == 0 {
		model = c.textModel
	}

	encoded := make([]string, 0, len(images))
	for _, img := range images {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(img))
	}

	answer, err := c.breaker.Execute(func() (string, error) {
		return c.generate(ctx, model, prompt, encoded)
	})
	if IsUnavailable(err) {
		return "", fmt.Errorf("vision service unavailable: %w", err)
	}
	return answer, err
}

func (c *Client) generate(ctx context.Context, model, prompt string, images []string) (string, error) {
	// Temperature 0 keeps transcription output deterministic.
	body, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  prompt,
		Images:  images,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Response, nil
}

// Health reports whether the Ollama server is reachable and whether the
// configured models are pulled. A connection failure is not an error,
// just a disconnected report.
type Health struct {
	Connected            bool
	TextModelAvailable   bool
	VisionModelAvailable bool
}

// Health probes the Ollama tags endpoint.
func (c *Client) Health(ctx context.Context) Health {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return Health{}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Health{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return Health{Connected: true}
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}

	return Health{
		Connected:            true,
		TextModelAvailable:   modelAvailable(names, c.textModel),
		VisionModelAvailable: modelAvailable(names, c.visionModel),
	}
}

// modelAvailable matches either the full tag ("llava:7b") or the base
// model name ("llava") so an untagged config still finds a pulled model.
func modelAvailable(names []string, want string) bool {
	if want == "" {
		return false
	}
	wantBase := strings.SplitN(want, ":", 2)[0]
	for _, name := range names {
		if name == want {
			return true
		}
		if strings.SplitN(name, ":", 2)[0] == wantBase {
			return true
		}
	}
	return false
}

// IsUnavailable reports whether err came from an open circuit breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

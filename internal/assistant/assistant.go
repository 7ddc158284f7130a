// Package assistant produces AI chat replies through the Gemini API.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/nexguard/nexbot/internal/models"
	"google.golang.org/genai"
)

var (
	// ErrTimeout is returned when the completion does not arrive in time.
	ErrTimeout = errors.New("assistant: timeout")
	// ErrMalformed is returned when the service answers without usable text.
	ErrMalformed = errors.New("assistant: malformed response")
)

// Gemini content roles.
const (
	roleUser  = "user"
	roleModel = "model"
)

// Persona priming exchange sent in place of history on a fresh conversation.
const (
	PersonaGreeting = "Hi there! I'm NexGuard AI, your helpful assistant for NexGuard. Need quick answers or support?"
	PersonaAck      = "I understand. I'll act as NexGuard AI, providing concise, friendly and informative responses as a helpful assistant for NexGuard."
)

// ClientOpts configures a Client.
type ClientOpts struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
	Temperature     float32
	Timeout         time.Duration
	Metrics         *metrics.Recorder
}

type generateFunc func(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Client wraps the genai client. The underlying client is created on first use.
type Client struct {
	opts ClientOpts

	mu       sync.Mutex
	generate generateFunc
}

// NewClient validates opts and returns a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("assistant: API key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("assistant: model is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{opts: opts}, nil
}

func (c *Client) generator(ctx context.Context) (generateFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generate != nil {
		return c.generate, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: create client: %w", err)
	}
	model := c.opts.Model
	c.generate = func(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return client.Models.GenerateContent(ctx, model, contents, cfg)
	}
	return c.generate, nil
}

// Complete returns the model's reply to prompt given the prior conversation
// window. An empty window is replaced by the persona priming exchange.
func (c *Client) Complete(ctx context.Context, window []models.ChatTurn, prompt string) (string, error) {
	generate, err := c.generator(ctx)
	if err != nil {
		return "", err
	}

	temp := c.opts.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(c.opts.MaxOutputTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	result, err := generate(ctx, BuildContents(window, prompt), cfg)
	text, err := classify(ctx, result, err)
	c.opts.Metrics.Upstream("assistant", time.Since(start), err)
	return text, err
}

// BuildContents converts the chat window plus the new prompt into genai
// contents, priming the persona when the window is empty.
func BuildContents(window []models.ChatTurn, prompt string) []*genai.Content {
	var contents []*genai.Content
	if len(window) == 0 {
		contents = append(contents,
			textContent(roleUser, PersonaGreeting),
			textContent(roleModel, PersonaAck),
		)
	}
	for _, turn := range window {
		role := roleUser
		if turn.Role == models.RoleAssistant {
			role = roleModel
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		contents = append(contents, textContent(role, turn.Content))
	}
	return append(contents, textContent(roleUser, prompt))
}

func textContent(role, text string) *genai.Content {
	return &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}}
}

// classify maps a raw generate result onto the package's error taxonomy.
func classify(ctx context.Context, result *genai.GenerateContentResponse, err error) (string, error) {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("assistant: generate: %w", err)
	}
	if result == nil {
		return "", ErrMalformed
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", ErrMalformed
	}
	return text, nil
}

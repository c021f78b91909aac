package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ogulcanaydogan/llm-table-fill/internal/observability"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

// NoResponse is returned as the content when a successful completion has no
// first choice or an empty one.
const NoResponse = "No response"

const (
	defaultReferer = "https://github.com/ogulcanaydogan/llm-table-fill"
	defaultTitle   = "llmfill"
)

// Endpoints overrides a variant's URLs.
type Endpoints struct {
	Chat   string
	Models string
}

type Client struct {
	HTTP    *http.Client
	Referer string
	Title   string
	// Endpoints replaces variant URLs per provider name.
	Endpoints map[string]Endpoints
}

type Option func(*Client)

// WithTimeout bounds every request. Zero keeps the client without a timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTP.Timeout = d }
}

func WithAttribution(referer, title string) Option {
	return func(c *Client) {
		if referer != "" {
			c.Referer = referer
		}
		if title != "" {
			c.Title = title
		}
	}
}

func WithEndpoints(provider string, e Endpoints) Option {
	return func(c *Client) {
		if c.Endpoints == nil {
			c.Endpoints = map[string]Endpoints{}
		}
		c.Endpoints[provider] = e
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.HTTP = h }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		HTTP:    &http.Client{},
		Referer: defaultReferer,
		Title:   defaultTitle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is one chat completion. Temperature and TopP are sent only when
// non-nil.
type Request struct {
	Provider    string
	Credential  string
	Model       string
	Messages    []types.Message
	Temperature *float64
	TopP        *float64
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "API call failed: " + e.Status
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Send performs a single chat completion. It never retries.
func (c *Client) Send(ctx context.Context, req Request) (content string, err error) {
	v, err := Lookup(req.Provider)
	if err != nil {
		return "", err
	}
	ctx, span := observability.StartSpan(ctx, "provider.send",
		attribute.String("provider", v.Name),
		attribute.String("model", req.Model),
		attribute.Int("messages", len(req.Messages)),
	)
	defer func() { observability.EndSpan(span, err) }()

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(v), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(httpReq, v, req.Credential)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil || out.Choices[0].Message.Content == nil {
		return NoResponse, nil
	}
	if *out.Choices[0].Message.Content == "" {
		return NoResponse, nil
	}
	return *out.Choices[0].Message.Content, nil
}

func (c *Client) setHeaders(r *http.Request, v Variant, credential string) {
	r.Header.Set("Authorization", "Bearer "+credential)
	if v.Attribution {
		r.Header.Set("HTTP-Referer", c.Referer)
		r.Header.Set("X-Title", c.Title)
	}
}

func (c *Client) chatURL(v Variant) string {
	if e, ok := c.Endpoints[v.Name]; ok && e.Chat != "" {
		return e.Chat
	}
	return v.ChatURL
}

func (c *Client) modelsURL(v Variant) string {
	if e, ok := c.Endpoints[v.Name]; ok && e.Models != "" {
		return e.Models
	}
	return v.ModelsURL
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Status: statusText(resp)}
}

// statusText is the reason phrase without the numeric code.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	if text == "" {
		text = strconv.Itoa(resp.StatusCode)
	}
	return text
}

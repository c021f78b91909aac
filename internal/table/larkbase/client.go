// Package larkbase implements table.Host over the Lark/Feishu Bitable
// OpenAPI.
package larkbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ogulcanaydogan/llm-table-fill/internal/observability"
)

const (
	DefaultBaseURL  = "https://open.feishu.cn"
	DefaultPageSize = 500

	tokenPath = "/open-apis/auth/v3/tenant_access_token/internal"
	// tokenMargin renews a token slightly before the host expires it.
	tokenMargin = time.Minute
)

type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	AppToken  string
	PageSize  int
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	tokenMu sync.Mutex
	token   string
	expires time.Time

	fieldsMu sync.Mutex
	fields   map[string]fieldIndex
}

// New validates cfg and returns a client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, fmt.Errorf("lark app id and secret are required")
	}
	if strings.TrimSpace(cfg.AppToken) == "" {
		return nil, fmt.Errorf("lark base app token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 || cfg.PageSize > DefaultPageSize {
		cfg.PageSize = DefaultPageSize
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		now:    time.Now,
		fields: map[string]fieldIndex{},
	}, nil
}

// APIError is a non-zero code in a Lark response envelope.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api error %d: %s", e.Code, e.Msg)
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

func (c *Client) tenantToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{"app_id": c.cfg.AppID, "app_secret": c.cfg.AppSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tenant token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("tenant token: %s", resp.Status)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("tenant token: decode: %w", err)
	}
	if tr.Code != 0 {
		return "", fmt.Errorf("tenant token: %w", &APIError{Code: tr.Code, Msg: tr.Msg})
	}
	ttl := time.Duration(tr.Expire)*time.Second - tokenMargin
	if ttl <= 0 {
		ttl = time.Duration(tr.Expire) * time.Second
	}
	c.token = tr.TenantAccessToken
	c.expires = c.now().Add(ttl)
	return c.token, nil
}

// do sends an authorized request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) (err error) {
	ctx, span := observability.StartSpan(ctx, "larkbase.request",
		attribute.String("http.method", method),
		attribute.String("lark.path", path),
	)
	defer func() { observability.EndSpan(span, err) }()

	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", path, err)
		}
	}
	return nil
}

func (c *Client) appPath(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, url.PathEscape(c.cfg.AppToken))
	escaped = append(escaped, parts...)
	return "/open-apis/bitable/v1/apps/" + strings.Join(escaped, "/")
}

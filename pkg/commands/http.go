package commands

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Auth types for HTTP commands.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthHMAC   = "hmac"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body.
const SignatureHeader = "X-Command-Signature"

// HTTPConfig describes how to call an HTTP command endpoint.
type HTTPConfig struct {
	URL        string            `yaml:"url"         json:"url"`
	AuthType   string            `yaml:"auth_type"   json:"auth_type"`
	AuthSecret string            `yaml:"auth_secret" json:"auth_secret"`
	TimeoutSec int               `yaml:"timeout_sec" json:"timeout_sec"`
	Headers    map[string]string `yaml:"headers"     json:"headers,omitempty"`
}

// HTTPCommand posts the request as JSON and decodes a Response from the
// reply body. Each command owns a circuit breaker.
type HTTPCommand struct {
	name       string
	cfg        HTTPConfig
	httpClient *http.Client
	breaker    *Breaker
	guardOpts  []GuardOption
}

// NewHTTPCommand creates an HTTP command. A nil client gets a pooled default.
func NewHTTPCommand(name string, cfg HTTPConfig, client *http.Client, breaker BreakerConfig, opts ...GuardOption) *HTTPCommand {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     60 * time.Second,
			},
		}
	}
	return &HTTPCommand{
		name:       name,
		cfg:        cfg,
		httpClient: client,
		breaker:    NewBreaker(breaker),
		guardOpts:  opts,
	}
}

// Breaker exposes the command's circuit breaker.
func (c *HTTPCommand) Breaker() *Breaker { return c.breaker }

// Execute calls the endpoint.
func (c *HTTPCommand) Execute(ctx context.Context, req Request) (*Response, error) {
	if !c.breaker.Allow() {
		return nil, &TransientCommandError{Command: c.name, Err: ErrCircuitOpen}
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		c.breaker.Failure()
		return nil, &TransientCommandError{Command: c.name, Err: err}
	}
	c.breaker.Success()
	return resp, nil
}

func (c *HTTPCommand) do(ctx context.Context, req Request) (*Response, error) {
	if err := CheckURL(c.cfg.URL, c.guardOpts...); err != nil {
		return nil, fmt.Errorf("command URL validation: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal command request: %w", err)
	}

	timeout := time.Duration(c.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create command request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	switch c.cfg.AuthType {
	case AuthBearer:
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthSecret)
	case AuthHMAC:
		httpReq.Header.Set(SignatureHeader, Sign(c.cfg.AuthSecret, body))
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("command request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_, _ = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read command response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("command returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var out Response
	if len(bytes.TrimSpace(respBody)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal command response: %w", err)
	}
	return &out, nil
}

// Sign returns the "sha256=<hex>" HMAC of payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%x", mac.Sum(nil))
}

// Package oracle calls an LLM behind the Anthropic Messages API to decide
// whether a submitted proof satisfies a payment's condition. The caller
// treats it as an opaque, possibly slow, possibly failing decision function:
// an error here must abort the verify flow before any ledger transition is
// attempted.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1/messages"
	defaultModel   = "claude-sonnet-4-20250514"
	apiVersion     = "2023-06-01"
	maxRetries     = 4
	initDelay      = 1 * time.Second
)

const systemPrompt = `You are a payment verification oracle. You are given the
condition text of an escrowed payment and the proof of completion submitted
by the worker. Decide whether the proof satisfies the condition.
Respond with JSON only, no prose, in this exact shape:
{"approved": bool, "confidence": 0.0-1.0, "reason": "...", "issues": ["..."]}`

// Result is the oracle's decision for one proof.
type Result struct {
	Approved   bool     `json:"approved"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Issues     []string `json:"issues,omitempty"`
}

type Client struct {
	ring    *keyRing
	model   string
	baseURL string
	client  *http.Client
}

func NewClient(apiKeys []string, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		ring:    newKeyRing(apiKeys),
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Verify asks the oracle whether proofContent satisfies condition. Quota
// responses rotate to the next API key before retrying; other failures
// retry with the same key.
func (c *Client) Verify(ctx context.Context, condition, proofContent string) (*Result, error) {
	if c.ring.current() == "" {
		return nil, fmt.Errorf("no oracle API keys configured")
	}

	userPrompt := fmt.Sprintf("Condition:\n%s\n\nSubmitted proof:\n%s", condition, proofContent)
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := initDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("x-api-key", c.ring.current())
		req.Header.Set("anthropic-version", apiVersion)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("oracle request failed: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read oracle response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return parseResult(respBody)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 529:
			// Quota exhaustion is the one signal that rotates keys.
			c.ring.exhausted()
			lastErr = fmt.Errorf("oracle quota exhausted (status %d)", resp.StatusCode)
			continue
		default:
			lastErr = fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			continue
		}
	}
	return nil, lastErr
}

func parseResult(respBody []byte) (*Result, error) {
	var mr messagesResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	var text string
	for _, block := range mr.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	// The model is told to answer with bare JSON but may still wrap it in a
	// code fence.
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var res Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &res); err != nil {
		return nil, fmt.Errorf("oracle answer is not valid JSON: %w", err)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return nil, fmt.Errorf("oracle confidence %f out of range", res.Confidence)
	}
	return &res, nil
}

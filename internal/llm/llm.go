// Package llm is a client for OpenAI-compatible chat-completion backends.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is used when Opts.Model is empty.
	DefaultModel = "gpt-4o"
	// DefaultTimeout bounds a single completion request.
	DefaultTimeout = 120 * time.Second

	chatPath = "/chat/completions"
)

const (
	personaPrompt = "You are an assistant for the bot named %s. Use the following context to inform your responses, but focus primarily on answering the user's query."
	contextPrompt = "Here is some context information: %s"
	ackPrompt     = "I've reviewed this information and am ready to help with your question."

	decisionPrompt = "You route questions in a group chat to exactly one agent. " +
		"Reply with a JSON object with the keys agent_id (the id of the chosen agent), " +
		"agent_name, reply_text (that agent's reply to the user) and confidence (a number from 0 to 1)."
)

// ErrNoChoices is returned when a 200 response carries no choices.
var ErrNoChoices = errors.New("llm: response has no choices")

// HTTPError is returned for any non-200 response. Body is the raw response body.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm: HTTP %d: %s", e.Status, e.Body)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Opts configures a Client.
type Opts struct {
	APIKey     string
	BaseURL    string        // default DefaultBaseURL
	Model      string        // default DefaultModel
	Timeout    time.Duration // default DefaultTimeout; ignored when HTTPClient is set
	HTTPClient *http.Client
	// Observe, when set, is called with the wall time of every request.
	Observe func(elapsed time.Duration)
}

// Client issues one synchronous completion per call. It never retries.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	observe func(time.Duration)
}

// New creates a Client.
func New(opts Opts) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	c := &Client{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		http:    opts.HTTPClient,
		observe: opts.Observe,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	return c, nil
}

// Model returns the model name sent with every request.
func (c *Client) Model() string {
	return c.model
}

// Complete answers query as persona, grounded on background, and returns
// the text of the first choice.
func (c *Client) Complete(ctx context.Context, query, background, persona string) (string, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: BuildMessages(query, background, persona),
	}
	return c.do(ctx, req)
}

// BuildMessages returns the four-turn exchange sent by Complete.
func BuildMessages(query, background, persona string) []Message {
	return []Message{
		{Role: "system", Content: fmt.Sprintf(personaPrompt, persona)},
		{Role: "user", Content: fmt.Sprintf(contextPrompt, background)},
		{Role: "assistant", Content: ackPrompt},
		{Role: "user", Content: query},
	}
}

// CompleteStructured sends prompt in JSON mode and decodes the reply into
// a Decision. The decision is not validated here.
func (c *Client) CompleteStructured(ctx context.Context, prompt string) (*Decision, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: decisionPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	content, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var d Decision
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil, fmt.Errorf("llm: decode decision: %w", err)
	}
	return &d, nil
}

func (c *Client) do(ctx context.Context, req chatRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if c.observe != nil {
		c.observe(time.Since(start))
	}
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrNoChoices
	}
	return out.Choices[0].Message.Content, nil
}

// Decision is the structured reply of an arbitration call.
type Decision struct {
	AgentID    uint
	AgentName  string
	ReplyText  string
	Confidence float64
}

// UnmarshalJSON accepts agent_id as a JSON number or a numeric string.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var raw struct {
		AgentID    json.RawMessage `json:"agent_id"`
		AgentName  string          `json:"agent_name"`
		ReplyText  string          `json:"reply_text"`
		Confidence float64         `json:"confidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.AgentID) == 0 || string(raw.AgentID) == "null" {
		return fmt.Errorf("agent_id is missing")
	}
	idText := strings.Trim(string(raw.AgentID), `"`)
	id, err := strconv.ParseUint(strings.TrimSpace(idText), 10, 64)
	if err != nil {
		return fmt.Errorf("agent_id %s is not an integer", raw.AgentID)
	}
	d.AgentID = uint(id)
	d.AgentName = raw.AgentName
	d.ReplyText = raw.ReplyText
	d.Confidence = raw.Confidence
	return nil
}

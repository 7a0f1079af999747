package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dataalchemy/alchemy/internal/errors"
)

// Client is a chat completions client for one (model, API key) pair.
type Client struct {
	httpClient *http.Client
	base       string
	apiKey     string
	model      string

	temperature float64
	maxTokens   int
	maxRetries  int
}

// NewClient creates a client from a model config and one of its keys.
func NewClient(cfg ModelConfig, apiKey string) *Client {
	return &Client{
		httpClient:  &http.Client{},
		base:        strings.TrimRight(cfg.APIBase, "/"),
		apiKey:      apiKey,
		model:       cfg.Name,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  DefaultChatRetries,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content          string `json:"content"`
		ReasoningContent string `json:"reasoning_content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends a non-streaming request and returns the assistant content.
// Transport and protocol errors retry with fixed backoff.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	return errors.RetryWithResult(ctx, errors.FixedRetryConfig(c.maxRetries), func() (string, error) {
		reqCtx, cancel := context.WithTimeout(ctx, DefaultChatTimeout)
		defer cancel()
		return c.doChat(reqCtx, messages)
	})
}

func (c *Client) doChat(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.New(errors.ErrCodeLLMBadResponse, fmt.Sprintf("decode chat response: %v", err), err)
	}
	if result.Error != nil {
		return "", errors.New(errors.ErrCodeLLMBadResponse, result.Error.Message, nil)
	}
	if len(result.Choices) == 0 {
		return "", errors.New(errors.ErrCodeLLMBadResponse, "empty chat response", nil)
	}
	return result.Choices[0].Message.Content, nil
}

// ChatStream sends a streaming request and invokes onDelta for each chunk
// in arrival order. Streaming requests are not retried: resuming a broken
// stream is undefined.
func (c *Client) ChatStream(ctx context.Context, messages []Message, onDelta func(Delta)) error {
	streamCtx, cancel := context.WithTimeout(ctx, DefaultStreamTimeout)
	defer cancel()

	resp, err := c.post(streamCtx, messages, true)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return errors.New(errors.ErrCodeStreamBroken, fmt.Sprintf("malformed stream chunk: %v", err), err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		d := Delta{
			Reasoning: chunk.Choices[0].Delta.ReasoningContent,
			Content:   chunk.Choices[0].Delta.Content,
		}
		if d.Reasoning != "" || d.Content != "" {
			onDelta(d)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.New(errors.ErrCodeStreamBroken, fmt.Sprintf("stream interrupted: %v", err), err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	msgs := make([]chatMessage, len(messages))
	for i, m := range messages {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Stream:      stream,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeLLMTimeout, "chat request timed out", err)
		}
		return nil, errors.New(errors.ErrCodeLLMUnavailable, fmt.Sprintf("chat request failed: %v", err), err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("chat failed with status %d: %s", resp.StatusCode, string(body))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errors.New(errors.ErrCodeLLMUnavailable, msg, nil)
	}
	return errors.New(errors.ErrCodeLLMBadResponse, msg, nil)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

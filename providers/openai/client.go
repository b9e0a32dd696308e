package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raymondclowe/aitgbot/llm"
	"github.com/raymondclowe/aitgbot/providers/wire"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 90 * time.Second},
	}
}

type chatCompletionRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Messages  []wire.Message `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	start := time.Now()

	body := chatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  wire.MessagesFromHistory(req.History),
	}
	b, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return llm.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return llm.Response{}, llm.WrapTransportErr("openai", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, llm.WrapTransportErr("openai", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var out chatCompletionResponse
		if json.Unmarshal(raw, &out) == nil && out.Error != nil && out.Error.Message != "" {
			return llm.Response{}, llm.ErrFromStatus("openai", resp.StatusCode, out.Error.Message)
		}
		return llm.Response{}, llm.ErrFromStatus("openai", resp.StatusCode, string(raw))
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Response{}, fmt.Errorf("openai: %v: %w", err, llm.ErrMalformedResponse)
	}
	if len(out.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("openai: empty choices: %w", llm.ErrMalformedResponse)
	}

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)
	return llm.Response{
		Text: strings.TrimSpace(out.Choices[0].Message.Content),
		Raw:  rawMap,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

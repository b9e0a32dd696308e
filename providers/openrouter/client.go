package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/raymondclowe/aitgbot/llm"
	"github.com/raymondclowe/aitgbot/providers/wire"
	"golang.org/x/sync/singleflight"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Referer string
	Title   string

	catalogTTL time.Duration
	catalogMu  sync.Mutex
	catalogAt  time.Time
	catalog    map[string]ModelInfo
	catalogIDs []string
	group      singleflight.Group
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTP:       &http.Client{Timeout: 90 * time.Second},
		Referer:    "https://github.com/raymondclowe/aitgbot",
		Title:      "aitgbot",
		catalogTTL: time.Hour,
	}
}

type imageConfig struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ImageSize   string `json:"image_size,omitempty"`
}

type chatCompletionRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Messages    []wire.Message `json:"messages"`
	Modalities  []string       `json:"modalities,omitempty"`
	ImageConfig *imageConfig   `json:"image_config,omitempty"`
}

type responseImage struct {
	Type     string `json:"type"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string          `json:"content"`
			Images    []responseImage `json:"images,omitempty"`
			Reasoning string          `json:"reasoning,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// modalitiesParam maps the session's format preference onto the wire field.
// "auto" (or empty) leaves generation up to the model.
func modalitiesParam(pref string) []string {
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "text":
		return []string{"text"}
	case "image":
		return []string{"image"}
	case "text+image":
		return []string{"text", "image"}
	default:
		return nil
	}
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	start := time.Now()

	body := chatCompletionRequest{
		Model:      req.Model,
		MaxTokens:  req.MaxTokens,
		Messages:   wire.MessagesFromHistory(req.History),
		Modalities: modalitiesParam(req.Modalities),
	}
	if req.AspectRatio != "" || req.ImageSize != "" {
		body.ImageConfig = &imageConfig{AspectRatio: req.AspectRatio, ImageSize: req.ImageSize}
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
	if c.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.Referer)
	}
	if c.Title != "" {
		httpReq.Header.Set("X-Title", c.Title)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return llm.Response{}, llm.WrapTransportErr("openrouter", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, llm.WrapTransportErr("openrouter", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var out chatCompletionResponse
		if json.Unmarshal(raw, &out) == nil && out.Error != nil && out.Error.Message != "" {
			return llm.Response{}, llm.ErrFromStatus("openrouter", resp.StatusCode, out.Error.Message)
		}
		return llm.Response{}, llm.ErrFromStatus("openrouter", resp.StatusCode, string(raw))
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Response{}, fmt.Errorf("openrouter: %v: %w", err, llm.ErrMalformedResponse)
	}
	if len(out.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("openrouter: empty choices: %w", llm.ErrMalformedResponse)
	}

	msg := out.Choices[0].Message
	images := make([]string, 0, len(msg.Images))
	for _, img := range msg.Images {
		b64, _ := wire.Base64FromDataURL(img.ImageURL.URL)
		images = append(images, b64)
	}
	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)
	return llm.Response{
		Text:      strings.TrimSpace(msg.Content),
		Images:    images,
		Reasoning: strings.TrimSpace(msg.Reasoning),
		Raw:       rawMap,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

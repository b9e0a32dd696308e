package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raymondclowe/aitgbot/llm"
	"github.com/raymondclowe/aitgbot/providers/wire"
)

const apiVersion = "2023-06-01"

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 90 * time.Second},
	}
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	start := time.Now()

	body := messagesRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 3000
	}
	for _, t := range req.History {
		if t.Role == llm.RoleSystem {
			// The messages API takes the system prompt out of band.
			body.System = t.Text
			continue
		}
		msg := message{Role: t.Role, Content: []contentBlock{{Type: "text", Text: t.Text}}}
		for _, img := range t.Images {
			data, err := c.imageData(ctx, img)
			if err != nil {
				return llm.Response{}, fmt.Errorf("anthropic image: %w", err)
			}
			msg.Content = append(msg.Content, contentBlock{
				Type: "image",
				Source: &imageSource{
					Type:      "base64",
					MediaType: "image/jpeg",
					Data:      data,
				},
			})
		}
		body.Messages = append(body.Messages, msg)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return llm.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return llm.Response{}, llm.WrapTransportErr("anthropic", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, llm.WrapTransportErr("anthropic", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var out messagesResponse
		if json.Unmarshal(raw, &out) == nil && out.Error != nil && out.Error.Message != "" {
			return llm.Response{}, llm.ErrFromStatus("anthropic", resp.StatusCode, out.Error.Message)
		}
		return llm.Response{}, llm.ErrFromStatus("anthropic", resp.StatusCode, string(raw))
	}

	var out messagesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: %v: %w", err, llm.ErrMalformedResponse)
	}
	if len(out.Content) == 0 {
		return llm.Response{}, fmt.Errorf("anthropic: empty content: %w", llm.ErrMalformedResponse)
	}

	var text strings.Builder
	for _, blk := range out.Content {
		if blk.Type == "text" {
			text.WriteString(blk.Text)
		}
	}
	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)
	return llm.Response{
		Text: strings.TrimSpace(text.String()),
		Raw:  rawMap,
		Usage: llm.Usage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			TotalTokens:  out.Usage.InputTokens + out.Usage.OutputTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// imageData returns raw base64. Payloads that arrive as remote URLs are
// fetched and re-encoded, since the messages API only accepts inline data.
func (c *Client) imageData(ctx context.Context, img string) (string, error) {
	if b64, ok := wire.Base64FromDataURL(img); ok {
		return b64, nil
	}
	if !strings.HasPrefix(img, "http://") && !strings.HasPrefix(img, "https://") {
		return img, nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, img, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch image: http %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/raymondclowe/aitgbot/llm"
)

// ModelInfo is the catalog subset the bot cares about.
type ModelInfo struct {
	ID          string
	Name        string
	ImageInput  bool
	ImageOutput bool
}

type modelsResponse struct {
	Data []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Architecture struct {
			InputModalities  []string `json:"input_modalities"`
			OutputModalities []string `json:"output_modalities"`
		} `json:"architecture"`
	} `json:"data"`
}

// Models returns the live model catalog, cached for the configured TTL.
// Concurrent callers share one fetch.
func (c *Client) Models(ctx context.Context) ([]string, map[string]ModelInfo, error) {
	c.catalogMu.Lock()
	if c.catalog != nil && time.Since(c.catalogAt) < c.catalogTTL {
		ids, cat := c.catalogIDs, c.catalog
		c.catalogMu.Unlock()
		return ids, cat, nil
	}
	c.catalogMu.Unlock()

	_, err, _ := c.group.Do("models", func() (any, error) {
		ids, cat, err := c.fetchModels(ctx)
		if err != nil {
			return nil, err
		}
		c.catalogMu.Lock()
		c.catalog = cat
		c.catalogIDs = ids
		c.catalogAt = time.Now()
		c.catalogMu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	return c.catalogIDs, c.catalog, nil
}

func (c *Client) fetchModels(ctx context.Context) ([]string, map[string]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, nil, llm.WrapTransportErr("openrouter", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, llm.WrapTransportErr("openrouter", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, llm.ErrFromStatus("openrouter", resp.StatusCode, string(raw))
	}
	var out modelsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("openrouter models: %v: %w", err, llm.ErrMalformedResponse)
	}

	cat := make(map[string]ModelInfo, len(out.Data))
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		info := ModelInfo{ID: m.ID, Name: m.Name}
		for _, mod := range m.Architecture.InputModalities {
			if mod == "image" {
				info.ImageInput = true
			}
		}
		for _, mod := range m.Architecture.OutputModalities {
			if mod == "image" {
				info.ImageOutput = true
			}
		}
		cat[m.ID] = info
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, cat, nil
}

// SupportsImageOutput reports whether the given catalog id can emit images.
// Unknown models and catalog fetch failures report false; enforcement is
// skipped rather than guessed.
func (c *Client) SupportsImageOutput(ctx context.Context, modelID string) bool {
	_, cat, err := c.Models(ctx)
	if err != nil {
		return false
	}
	return cat[modelID].ImageOutput
}

// HasModel reports whether the id exists in the live catalog.
func (c *Client) HasModel(ctx context.Context, modelID string) (bool, error) {
	_, cat, err := c.Models(ctx)
	if err != nil {
		return false, err
	}
	_, ok := cat[modelID]
	return ok, nil
}

// CatalogMessage renders the model list the way the bot replies to
// /listopenroutermodels.
func (c *Client) CatalogMessage(ctx context.Context) (string, error) {
	ids, cat, err := c.Models(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Model ID : Model Name\n\n")
	for _, id := range ids {
		b.WriteString(id)
		b.WriteString(" : ")
		b.WriteString(cat[id].Name)
		b.WriteString("\n")
	}
	b.WriteString("\n\nOr choose from the best ranked at https://openrouter.ai/rankings")
	return b.String(), nil
}

// SetCatalogForTest seeds the capability cache without a network fetch.
func (c *Client) SetCatalogForTest(infos []ModelInfo) {
	c.catalogMu.Lock()
	defer c.catalogMu.Unlock()
	c.catalog = make(map[string]ModelInfo, len(infos))
	c.catalogIDs = c.catalogIDs[:0]
	for _, info := range infos {
		c.catalog[info.ID] = info
		c.catalogIDs = append(c.catalogIDs, info.ID)
	}
	sort.Strings(c.catalogIDs)
	c.catalogAt = time.Now()
}

// Package wire builds OpenAI-compatible chat payloads shared by the
// openai, groq and openrouter clients.
package wire

import "github.com/raymondclowe/aitgbot/llm"

type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

const jpegDataPrefix = "data:image/jpeg;base64,"

// DataURL wraps a base64 JPEG payload as a data URL, leaving already-formed
// URLs untouched.
func DataURL(b64 string) string {
	if len(b64) > 5 && (b64[:5] == "data:" || b64[:5] == "http:" || b64[:6] == "https:") {
		return b64
	}
	return jpegDataPrefix + b64
}

// Base64FromDataURL strips a JPEG data-URL prefix if present.
func Base64FromDataURL(url string) (b64 string, ok bool) {
	if len(url) >= len(jpegDataPrefix) && url[:len(jpegDataPrefix)] == jpegDataPrefix {
		return url[len(jpegDataPrefix):], true
	}
	return url, false
}

// MessagesFromHistory maps turns to the OpenAI wire shape. Text-only turns
// use a plain string content; turns carrying images use the part array form.
func MessagesFromHistory(history []llm.Turn) []Message {
	out := make([]Message, 0, len(history))
	for _, t := range history {
		if len(t.Images) == 0 {
			out = append(out, Message{Role: t.Role, Content: t.Text})
			continue
		}
		parts := []ContentPart{{Type: "text", Text: t.Text}}
		for _, img := range t.Images {
			parts = append(parts, ContentPart{
				Type:     "image_url",
				ImageURL: &ImageURL{URL: DataURL(img)},
			})
		}
		out = append(out, Message{Role: t.Role, Content: parts})
	}
	return out
}

package kiosk

import "strings"

// Placeholder delivered when a generated image arrives with no text and no
// usable reasoning field.
const Placeholder = "Image generated without text description."

// promptAddendum is appended once to the pinned system prompt of
// image-capable kiosk sessions, at session or profile activation time.
const promptAddendum = "IMPORTANT: whenever you generate or include an image in a reply, " +
	"always accompany it with a short text explanation of what the image shows. " +
	"Never send an image without any text."

// augmentInstruction is appended to an inbound user message that looks like
// an image request, so the model produces both a visual and an explanation.
const augmentInstruction = "Please provide both a visual (image) and a short text explanation in your response."

// imageRequestKeywords marks inbound messages that likely ask for a visual.
var imageRequestKeywords = []string{
	"draw", "sketch", "diagram", "illustrate", "visualize", "show me",
	"picture", "image", "graph", "chart", "plot",
	"generate", "make", "design",
}

// IsImageRequest reports whether the user text contains any image-request
// keyword.
func IsImageRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range imageRequestKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// AugmentUserText appends the both-image-and-text instruction to an
// image-request message. The original text is kept intact.
func AugmentUserText(text string) string {
	trimmed := strings.TrimRight(text, " \n")
	if trimmed == "" {
		return augmentInstruction
	}
	return trimmed + "\n\n" + augmentInstruction
}

// AugmentSystemPrompt attaches the standing image+text instruction, once.
func AugmentSystemPrompt(prompt string) string {
	if strings.Contains(prompt, promptAddendum) {
		return prompt
	}
	if strings.TrimSpace(prompt) == "" {
		return promptAddendum
	}
	return strings.TrimRight(prompt, " \n") + "\n\n" + promptAddendum
}

// EnforceText guarantees a reply carrying images is never text-free. The
// image payload is untouched; only the text channel is adjusted. This is
// policy, not a failure path.
func EnforceText(text string, images []string, reasoning string, useReasoning bool) string {
	if len(images) == 0 || strings.TrimSpace(text) != "" {
		return text
	}
	if useReasoning {
		if r := strings.TrimSpace(reasoning); r != "" {
			return r
		}
	}
	return Placeholder
}

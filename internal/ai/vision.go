package ai

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/kiranshivaraju/shotsearch/pkg/models"
)

// VisionPrompt asks the model for a JSON description of a screenshot.
const VisionPrompt = `Analyze this screenshot and provide:
1. A detailed description of what's visible in the image
2. List of UI elements (buttons, forms, menus, etc.)
3. Main colors and visual style
4. Any notable text or error messages visible
5. The apparent purpose or context of this screen

Format your response as JSON with these keys:
- description: string (overall description)
- elements: array of strings (UI elements found)
- colors: array of strings (dominant colors)
- text_snippets: array of strings (notable text found)
- context: string (what this screen appears to be for)`

// UnparsedContext marks a result whose model output held no usable JSON.
const UnparsedContext = "Unable to parse structured data"

// DataURI encodes raw image bytes as a base64 data URI.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseVisionOutput extracts the first JSON object in the model output that
// matches the expected shape. Models often wrap the object in prose or code
// fences. When nothing matches, the whole output becomes the description
// and ok is false.
func ParseVisionOutput(text string) (result models.VisionResult, ok bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var candidate models.VisionResult
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&candidate); err != nil {
			continue
		}
		if strings.TrimSpace(candidate.Description) == "" {
			continue
		}
		return normalizeVision(candidate), true
	}

	return models.VisionResult{
		Description:  strings.TrimSpace(text),
		Elements:     []string{},
		Colors:       []string{},
		TextSnippets: []string{},
		Context:      UnparsedContext,
	}, false
}

func normalizeVision(v models.VisionResult) models.VisionResult {
	return models.VisionResult{
		Description:  strings.TrimSpace(v.Description),
		Elements:     compact(v.Elements),
		Colors:       compact(v.Colors),
		TextSnippets: compact(v.TextSnippets),
		Context:      strings.TrimSpace(v.Context),
	}
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package service

import (
	"fmt"
	"strings"

	"sitegen/internal/model"
)

const DefaultSystemPrompt = `You are an expert web developer. Generate complete, fully functional websites using pure HTML, CSS, and JavaScript.

MANDATORY RULES:
1. Return ONLY the complete HTML code (including internal <style> and <script> tags)
2. The site must be beautiful, modern, and responsive
3. Use Google Fonts when appropriate
4. Include animations and interactivity where it makes sense
5. The code must work standalone (no external dependencies other than CDNs)
6. Start with <!DOCTYPE html> and end with </html>
7. Do NOT add explanations, return only the code

Recommended styles:
- Modern design with gradients and shadows
- Well-chosen typography
- Responsive layout using CSS Grid/Flexbox
- Smooth micro-animations
- Cohesive color palette`

var styleHints = map[model.Style]string{
	model.StyleModern:     "modern design with vibrant colors and glassmorphism elements",
	model.StyleMinimalist: "clean and minimalist design, lots of negative space, elegant typography",
	model.StyleCorporate:  "professional and trustworthy design, blue/gray tones, serious",
	model.StyleCreative:   "bold and creative design, unexpected colors, unconventional layout",
	model.StyleDark:       "dark theme, neons, cyberpunk/tech aesthetic",
}

// StyleHint describes a style to the model.
func StyleHint(s model.Style) string {
	if hint, ok := styleHints[s]; ok {
		return hint
	}
	return "modern design"
}

func buildPrompt(req model.BuildRequest) string {
	return fmt.Sprintf(`Create a complete website with %s.

User request: %s

Content language: %s

Generate the full HTML now:`, StyleHint(req.Style), req.Prompt, req.Language)
}

func refinePrompt(req model.RefineRequest) string {
	return fmt.Sprintf("Here is the current HTML of the website:\n\n```html\n%s\n```\n\n"+
		"Modify the site following these instructions: %s\n\n"+
		"Return the complete modified HTML:", req.CurrentHTML, req.Instructions)
}

// ExtractHTML trims model output and drops any preamble before the doctype.
func ExtractHTML(raw string) string {
	html := strings.TrimSpace(raw)
	if strings.HasPrefix(html, "<!") {
		return html
	}
	if idx := strings.Index(html, "<!DOCTYPE"); idx > 0 {
		html = html[idx:]
	}
	return html
}

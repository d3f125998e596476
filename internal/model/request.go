package model

import (
	"fmt"
	"strings"
)

type Style string

const (
	StyleModern     Style = "modern"
	StyleMinimalist Style = "minimalist"
	StyleCorporate  Style = "corporate"
	StyleCreative   Style = "creative"
	StyleDark       Style = "dark"
)

const DefaultLanguage = "en-US"

var Styles = []Style{StyleModern, StyleMinimalist, StyleCorporate, StyleCreative, StyleDark}

func (s Style) Valid() bool {
	for _, known := range Styles {
		if s == known {
			return true
		}
	}
	return false
}

// BuildRequest is the body of POST /generate and POST /generate/stream.
type BuildRequest struct {
	Prompt   string `json:"prompt"`
	Style    Style  `json:"style"`
	Language string `json:"language"`
}

// Normalize fills the defaults the backend applies for omitted fields and
// reports whether the request can be submitted.
func (r BuildRequest) Normalize() (BuildRequest, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return r, fmt.Errorf("prompt is empty")
	}
	if r.Style == "" {
		r.Style = StyleModern
	}
	if !r.Style.Valid() {
		return r, fmt.Errorf("unknown style %q", r.Style)
	}
	if strings.TrimSpace(r.Language) == "" {
		r.Language = DefaultLanguage
	}
	return r, nil
}

// RefineRequest is the body of POST /refine.
type RefineRequest struct {
	CurrentHTML  string `json:"current_html"`
	Instructions string `json:"instructions"`
}

func (r RefineRequest) Validate() error {
	if r.CurrentHTML == "" {
		return fmt.Errorf("current_html is empty")
	}
	if strings.TrimSpace(r.Instructions) == "" {
		return fmt.Errorf("instructions are empty")
	}
	return nil
}

// WorkspaceRefineRequest is what a workspace client sends: the document is
// implied by the workspace.
type WorkspaceRefineRequest struct {
	Instructions string `json:"instructions" binding:"required"`
}

type ExportRequest struct {
	Name string `json:"name"`
}

package model

import "time"

// GenerateResponse is returned by the non-streaming POST /generate.
type GenerateResponse struct {
	HTML       string `json:"html"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model,omitempty"`
}

// RefineResponse is returned by POST /refine.
type RefineResponse struct {
	HTML       string `json:"html"`
	TokensUsed *int   `json:"tokens_used,omitempty"`
}

// StreamFrame is the JSON payload of one `data: ` line on /generate/stream.
type StreamFrame struct {
	Chunk      string `json:"chunk,omitempty"`
	Done       bool   `json:"done,omitempty"`
	TokensUsed *int   `json:"tokens_used,omitempty"`
}

// Document is a full generated page plus its metadata.
type Document struct {
	HTML       string `json:"html"`
	SizeBytes  int    `json:"size_bytes"`
	TokensUsed *int   `json:"tokens_used,omitempty"`
}

func NewDocument(html string, tokensUsed *int) Document {
	return Document{
		HTML:       html,
		SizeBytes:  len(html),
		TokensUsed: tokensUsed,
	}
}

func (d Document) Empty() bool {
	return d.HTML == ""
}

// ExportRecord describes a document written to an export store.
type ExportRecord struct {
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  int    `json:"code,omitempty"`
}

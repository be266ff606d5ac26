// Package llm is the language model boundary: plain generation, structured
// JSON generation and search-grounded generation.
package llm

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/Kocoro-lab/converge/internal/metadata"
)

var (
	ErrEmptyResponse = errors.New("llm returned an empty response")
	ErrNoCandidates  = errors.New("llm returned no candidates")
)

// Request is one model call
type Request struct {
	// Operation names the step for logs, spans and metrics ("plan", "reflect"...)
	Operation   string
	Model       string
	Prompt      string
	Temperature float32
	// Schema constrains JSON output for GenerateJSON
	Schema *genai.Schema
}

type Response struct {
	Text       string
	Model      string
	TokensUsed int
}

// GroundedResponse is a search-grounded answer with the evidence behind it
type GroundedResponse struct {
	Text       string
	Model      string
	TokensUsed int
	Chunks     []metadata.GroundingChunk
	Supports   []metadata.GroundingSupport
}

// Service is implemented by GeminiService and by test doubles. Every method
// applies the bounded retry itself; callers must not add another retry layer.
type Service interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	// GenerateJSON decodes the model's JSON output into out
	GenerateJSON(ctx context.Context, req Request, out any) (*Response, error)
	GenerateWithSearch(ctx context.Context, req Request) (*GroundedResponse, error)
}

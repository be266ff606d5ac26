package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Kocoro-lab/converge/internal/circuitbreaker"
	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/metadata"
	"github.com/Kocoro-lab/converge/internal/metrics"
	"github.com/Kocoro-lab/converge/internal/pricing"
	"github.com/Kocoro-lab/converge/internal/tracing"
)

// contentGenerator is the slice of *genai.Models the service needs
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiService calls Gemini through the genai SDK. Each call runs through a
// circuit breaker and is retried at most MaxRetries times with exponential
// backoff.
type GeminiService struct {
	models     contentGenerator
	breaker    *circuitbreaker.CircuitBreaker
	pricing    *pricing.Table
	maxRetries int
	timeout    time.Duration
	baseDelay  time.Duration
	logger     *zap.Logger
}

// NewGeminiService creates the Gemini API client
func NewGeminiService(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required (set GEMINI_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiService(client.Models, cfg, logger), nil
}

func newGeminiService(models contentGenerator, cfg config.LLMConfig, logger *zap.Logger) *GeminiService {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := circuitbreaker.GetLLMSettings()
	cbConfig := settings.ToConfig()
	cbConfig.IsFailure = isBreakerFailure
	cb := circuitbreaker.NewCircuitBreaker("gemini", cbConfig, logger)
	circuitbreaker.Default.Register("llm", "gemini", cb)

	return &GeminiService{
		models:     models,
		breaker:    cb,
		pricing:    pricing.NewTable(cfg.Pricing),
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		baseDelay:  time.Second,
		logger:     logger,
	}
}

// Generate returns plain text
func (s *GeminiService) Generate(ctx context.Context, req Request) (*Response, error) {
	gc := &genai.GenerateContentConfig{Temperature: genai.Ptr(req.Temperature)}

	var out *Response
	err := s.call(ctx, req, gc, func(resp *genai.GenerateContentResponse) error {
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return ErrEmptyResponse
		}
		out = &Response{Text: text, Model: req.Model, TokensUsed: tokensUsed(resp)}
		return nil
	})
	return out, err
}

// GenerateJSON requests JSON constrained by req.Schema and decodes it into out.
// A reply that does not decode is retried like a transport failure.
func (s *GeminiService) GenerateJSON(ctx context.Context, req Request, out any) (*Response, error) {
	gc := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(req.Temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema,
	}

	var result *Response
	err := s.call(ctx, req, gc, func(resp *genai.GenerateContentResponse) error {
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return ErrEmptyResponse
		}
		if err := json.Unmarshal([]byte(stripCodeFence(text)), out); err != nil {
			return fmt.Errorf("decode %s output: %w", req.Operation, err)
		}
		result = &Response{Text: text, Model: req.Model, TokensUsed: tokensUsed(resp)}
		return nil
	})
	return result, err
}

// GenerateWithSearch enables the Google Search tool and returns the grounding
// metadata alongside the text.
func (s *GeminiService) GenerateWithSearch(ctx context.Context, req Request) (*GroundedResponse, error) {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
		Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	var out *GroundedResponse
	err := s.call(ctx, req, gc, func(resp *genai.GenerateContentResponse) error {
		g, err := groundedFromResponse(resp)
		if err != nil {
			return err
		}
		g.Model = req.Model
		out = g
		return nil
	})
	return out, err
}

// call runs one logical request: breaker, bounded retry, span and metrics.
// handle converts a raw response and may reject it to trigger a retry.
func (s *GeminiService) call(ctx context.Context, req Request, gc *genai.GenerateContentConfig, handle func(*genai.GenerateContentResponse) error) error {
	ctx, span := tracing.StartLLMSpan(ctx, req.Operation, req.Model)
	defer span.End()

	start := time.Now()
	attempts := 0
	var usage tokenUsage

	operation := func() error {
		attempts++
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		var resp *genai.GenerateContentResponse
		err := s.breaker.Execute(callCtx, func() error {
			var genErr error
			resp, genErr = s.models.GenerateContent(callCtx, req.Model, genai.Text(req.Prompt), gc)
			return genErr
		})
		if err == nil {
			usage = usageOf(resp)
			err = handle(resp)
		}
		if err == nil {
			return nil
		}
		if !isRetryable(ctx, err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("LLM call failed, retrying",
			zap.String("operation", req.Operation),
			zap.String("model", req.Model),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.baseDelay
	b.MaxElapsedTime = 0
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(s.maxRetries, 0))), ctx))

	duration := time.Since(start)
	span.SetAttributes(attribute.Int("llm.attempts", attempts))
	if err != nil {
		tracing.Fail(span, err)
		metrics.RecordLLMMetrics(req.Operation, req.Model, "error", duration.Seconds(), 0)
		s.logger.Error("LLM call failed",
			zap.String("operation", req.Operation),
			zap.String("model", req.Model),
			zap.Int("attempts", attempts),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", req.Operation, err)
	}

	metrics.RecordLLMMetrics(req.Operation, req.Model, "success", duration.Seconds(), usage.total)
	cost := s.pricing.CostForSplit(req.Model, usage.input, usage.output)
	if usage.input == 0 && usage.output == 0 {
		// some responses only report a total
		cost = s.pricing.CostForTokens(req.Model, usage.total)
	}
	metrics.LLMCost.WithLabelValues(req.Operation, req.Model).Add(cost)
	span.SetAttributes(
		attribute.Int("llm.tokens", usage.total),
		attribute.Float64("llm.estimated_cost_usd", cost),
	)
	s.logger.Debug("LLM call completed",
		zap.String("operation", req.Operation),
		zap.String("model", req.Model),
		zap.Int("attempts", attempts),
		zap.Int("tokens", usage.total),
		zap.Float64("estimated_cost_usd", cost),
		zap.Duration("duration", duration),
	)
	return nil
}

// groundedFromResponse converts the first candidate's grounding metadata
// into provider-neutral chunks and supports.
func groundedFromResponse(resp *genai.GenerateContentResponse) (*GroundedResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrNoCandidates
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	out := &GroundedResponse{Text: text, TokensUsed: tokensUsed(resp)}
	gm := resp.Candidates[0].GroundingMetadata
	if gm == nil {
		return out, nil
	}

	for _, chunk := range gm.GroundingChunks {
		var c metadata.GroundingChunk
		if chunk != nil && chunk.Web != nil {
			c = metadata.GroundingChunk{URI: chunk.Web.URI, Title: chunk.Web.Title}
		}
		// keep positions aligned with support chunk indices
		out.Chunks = append(out.Chunks, c)
	}

	for _, support := range gm.GroundingSupports {
		if support == nil || support.Segment == nil {
			continue
		}
		gs := metadata.GroundingSupport{
			StartIndex: int(support.Segment.StartIndex),
			EndIndex:   int(support.Segment.EndIndex),
		}
		for _, idx := range support.GroundingChunkIndices {
			gs.ChunkIndices = append(gs.ChunkIndices, int(idx))
		}
		out.Supports = append(out.Supports, gs)
	}
	return out, nil
}

func tokensUsed(resp *genai.GenerateContentResponse) int {
	return usageOf(resp).total
}

type tokenUsage struct {
	input, output, total int
}

func usageOf(resp *genai.GenerateContentResponse) tokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return tokenUsage{}
	}
	u := resp.UsageMetadata
	return tokenUsage{
		input:  int(u.PromptTokenCount),
		output: int(u.CandidatesTokenCount),
		total:  int(u.TotalTokenCount),
	}
}

// isRetryable treats caller cancellation, an open breaker and client-side
// API errors (4xx other than 408/429) as final.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return false
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return !isClientError(apiErr.Code)
	}
	return true
}

// isBreakerFailure keeps bad requests from tripping the breaker
func isBreakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return !isClientError(apiErr.Code)
	}
	return true
}

func isClientError(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// stripCodeFence removes a ```json fence some models wrap JSON in
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

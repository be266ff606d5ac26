package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/converge/internal/academic"
	"github.com/Kocoro-lab/converge/internal/llm"
	"github.com/Kocoro-lab/converge/internal/metadata"
	"github.com/Kocoro-lab/converge/internal/metrics"
	"github.com/Kocoro-lab/converge/internal/prompts"
)

const unknownDocumentName = "Unknown document"

// WebResearch runs one grounded search. Its sources carry short codes
// scoped to in.ID. A model failure becomes an inline diagnostic block.
func (a *Activities) WebResearch(ctx context.Context, in WebResearchInput) (WebResearchResult, error) {
	start := time.Now()
	cfg := a.cfg()
	out := WebResearchResult{ID: in.ID, Query: in.Query}

	resp, err := a.llm.GenerateWithSearch(ctx, llm.Request{
		Operation:   "web_search",
		Model:       pickModel(in.Model, cfg.Models.Web),
		Prompt:      prompts.WebSearcher(prompts.CurrentDate(a.now()), in.Query),
		Temperature: cfg.Temperatures.Web,
	})
	if err != nil {
		a.logger.Warn("Web research failed",
			zap.String("query", in.Query),
			zap.Int("id", in.ID),
			zap.Error(err),
		)
		out.Text = fmt.Sprintf("Error during web research for query '%s': %v", in.Query, err)
		out.Failed = true
		metrics.RecordWorkerMetrics("web", true, time.Since(start).Seconds())
		return out, nil
	}

	resolved := metadata.ResolveURLs(resp.Chunks, in.ID)
	citations := metadata.BuildCitations(resp.Text, resp.Chunks, resp.Supports, resolved)
	out.Text = metadata.InsertCitationMarkers(resp.Text, citations)
	out.Sources = metadata.Sources(citations)
	out.TokensUsed = resp.TokensUsed

	metrics.RecordWorkerMetrics("web", false, time.Since(start).Seconds())
	a.logger.Debug("Web research done",
		zap.String("query", in.Query),
		zap.Int("id", in.ID),
		zap.Int("chunks", len(resp.Chunks)),
		zap.Int("sources", len(out.Sources)),
	)
	return out, nil
}

// AcademicResearch searches arXiv and formats the hits as one text block.
// A search failure becomes an inline diagnostic block.
func (a *Activities) AcademicResearch(ctx context.Context, in AcademicResearchInput) (AcademicResearchResult, error) {
	start := time.Now()
	out := AcademicResearchResult{Query: in.Query}
	maxResults := in.MaxResults
	if maxResults < 1 {
		maxResults = a.cfg().Research.AcademicMaxResults
	}

	if a.academic == nil {
		out.Text = academic.FormatError(in.Query, fmt.Errorf("academic search is not configured"))
		out.Failed = true
		metrics.RecordWorkerMetrics("academic", true, time.Since(start).Seconds())
		return out, nil
	}

	papers, err := a.academic.Search(ctx, in.Query, maxResults)
	if err != nil {
		a.logger.Warn("Academic research failed", zap.String("query", in.Query), zap.Error(err))
		out.Text = academic.FormatError(in.Query, err)
		out.Failed = true
		metrics.RecordWorkerMetrics("academic", true, time.Since(start).Seconds())
		return out, nil
	}

	out.Text = academic.Format(in.Query, papers)
	out.Papers = len(papers)
	metrics.RecordWorkerMetrics("academic", false, time.Since(start).Seconds())
	return out, nil
}

// DocumentResearch extracts every pending upload and returns the existing
// results followed by one block per upload, in upload order. With no
// uploads it returns the existing results unchanged. Failures become
// inline blocks.
func (a *Activities) DocumentResearch(ctx context.Context, in DocumentResearchInput) (DocumentResearchResult, error) {
	results := append([]string(nil), in.Existing...)
	if len(in.Uploads) == 0 {
		return DocumentResearchResult{Results: results}, nil
	}

	start := time.Now()
	blocks := make([]string, len(in.Uploads))
	failed := make([]bool, len(in.Uploads))

	limit := a.cfg().Documents.MaxParallel
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, up := range in.Uploads {
		g.Go(func() error {
			name := strings.TrimSpace(up.Name)
			if name == "" {
				name = unknownDocumentName
			}
			if strings.TrimSpace(up.Path) == "" {
				blocks[i] = fmt.Sprintf("Error: No path provided for '%s'.", name)
				failed[i] = true
				return nil
			}
			if a.extractor == nil {
				blocks[i] = fmt.Sprintf("Error processing '%s': document extraction is not configured", name)
				failed[i] = true
				return nil
			}
			text, err := a.extractor.Extract(ctx, up.Path)
			if err != nil {
				blocks[i] = fmt.Sprintf("Error processing '%s': %v", name, err)
				failed[i] = true
				return nil
			}
			blocks[i] = fmt.Sprintf("Content from '%s':\n%s", name, text)
			return nil
		})
	}
	_ = g.Wait()

	out := DocumentResearchResult{Results: append(results, blocks...)}
	for _, f := range failed {
		if f {
			out.Failed++
		} else {
			out.Processed++
		}
	}
	metrics.RecordWorkerMetrics("documents", out.Failed > 0, time.Since(start).Seconds())
	a.logger.Info("Processed uploads",
		zap.Int("uploads", len(in.Uploads)),
		zap.Int("processed", out.Processed),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}

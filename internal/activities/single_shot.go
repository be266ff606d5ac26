package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/llm"
	"github.com/Kocoro-lab/converge/internal/prompts"
	"github.com/Kocoro-lab/converge/internal/webpage"
)

// AnswerFromDocument answers the question from the supplied document only,
// at temperature 0. It gathers no sources.
func (a *Activities) AnswerFromDocument(ctx context.Context, in AnswerFromDocumentInput) (AnswerResult, error) {
	cfg := a.cfg()
	resp, err := a.llm.Generate(ctx, llm.Request{
		Operation:   "document_qa",
		Model:       pickModel(in.Model, cfg.Models.Answer),
		Prompt:      prompts.DocumentQA(in.Question, in.Document),
		Temperature: 0,
	})
	if err != nil {
		return AnswerResult{}, err
	}
	return AnswerResult{Answer: resp.Text, TokensUsed: resp.TokensUsed}, nil
}

// SummarizeURL fetches the page and summarizes its text. When the page
// cannot be fetched or summarized it asks the model to look the URL up with
// search instead. If that fails too the answer is an inline error message;
// this activity never fails.
func (a *Activities) SummarizeURL(ctx context.Context, in SummarizeURLInput) (AnswerResult, error) {
	cfg := a.cfg()
	model := pickModel(in.Model, cfg.Models.Answer)
	date := prompts.CurrentDate(a.now())
	temp := cfg.Temperatures.URLSummary

	if page, err := a.fetchPage(ctx, in.URL); err != nil {
		a.logger.Warn("Page fetch failed, falling back to search", zap.String("url", in.URL), zap.Error(err))
	} else {
		resp, err := a.llm.Generate(ctx, llm.Request{
			Operation:   "url_summary",
			Model:       model,
			Prompt:      prompts.URLSummary(date, in.URL, page.Text),
			Temperature: temp,
		})
		if err == nil && strings.TrimSpace(resp.Text) != "" {
			return AnswerResult{Answer: resp.Text, TokensUsed: resp.TokensUsed}, nil
		}
		a.logger.Warn("Page summary failed, falling back to search", zap.String("url", in.URL), zap.Error(err))
	}

	resp, err := a.llm.GenerateWithSearch(ctx, llm.Request{
		Operation:   "url_summary_search",
		Model:       model,
		Prompt:      prompts.URLSummary(date, in.URL, ""),
		Temperature: temp,
	})
	if err != nil {
		a.logger.Error("URL summary failed", zap.String("url", in.URL), zap.Error(err))
		return AnswerResult{
			Answer:   fmt.Sprintf("An error occurred while trying to summarize the URL %s: %v", in.URL, err),
			Degraded: true,
		}, nil
	}
	if strings.TrimSpace(resp.Text) == "" {
		return AnswerResult{
			Answer:     fmt.Sprintf("Could not retrieve or summarize content from %s. The content might be inaccessible or the model could not perform the summarization.", in.URL),
			TokensUsed: resp.TokensUsed,
			Degraded:   true,
		}, nil
	}
	return AnswerResult{Answer: resp.Text, TokensUsed: resp.TokensUsed}, nil
}

func (a *Activities) fetchPage(ctx context.Context, url string) (*webpage.Page, error) {
	if a.pages == nil {
		return nil, fmt.Errorf("page fetching is not configured")
	}
	return a.pages.Fetch(ctx, url)
}

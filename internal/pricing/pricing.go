// Package pricing estimates the USD cost of language model usage from the
// configured price table.
package pricing

import (
	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/metrics"
)

// fallbackPerToken applies when neither the model nor a default is priced
const fallbackPerToken = 0.0000004

// Table looks up per-model prices. A nil Table prices everything at the
// fallback rate.
type Table struct {
	defaultPerToken float64
	models          map[string]config.ModelPrice
}

func NewTable(cfg config.PricingConfig) *Table {
	t := &Table{
		defaultPerToken: cfg.DefaultPer1K / 1000.0,
		models:          make(map[string]config.ModelPrice, len(cfg.Models)),
	}
	for _, m := range cfg.Models {
		t.models[m.Name] = m
	}
	return t
}

// DefaultPerToken returns the combined price used for unknown models
func (t *Table) DefaultPerToken() float64 {
	if t != nil && t.defaultPerToken > 0 {
		return t.defaultPerToken
	}
	return fallbackPerToken
}

// PricePerToken returns the combined price per token for model if priced.
// A model with only input and output prices is approximated by their mean.
func (t *Table) PricePerToken(model string) (float64, bool) {
	if t == nil || model == "" {
		return 0, false
	}
	m, ok := t.models[model]
	if !ok {
		return 0, false
	}
	if m.CombinedPer1K > 0 {
		return m.CombinedPer1K / 1000.0, true
	}
	if m.InputPer1K > 0 && m.OutputPer1K > 0 {
		return ((m.InputPer1K + m.OutputPer1K) / 2.0) / 1000.0, true
	}
	return 0, false
}

// CostForTokens prices a total token count
func (t *Table) CostForTokens(model string, tokens int) float64 {
	if tokens < 0 {
		tokens = 0
	}
	if price, ok := t.PricePerToken(model); ok {
		return float64(tokens) * price
	}
	recordFallback(model)
	return float64(tokens) * t.DefaultPerToken()
}

// CostForSplit prices input and output tokens separately when the model has
// split prices, and falls back to combined or default pricing otherwise.
func (t *Table) CostForSplit(model string, inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	if t != nil {
		if m, ok := t.models[model]; ok {
			if m.InputPer1K > 0 && m.OutputPer1K > 0 {
				return (float64(inputTokens)/1000.0)*m.InputPer1K + (float64(outputTokens)/1000.0)*m.OutputPer1K
			}
			if m.CombinedPer1K > 0 {
				return (float64(inputTokens+outputTokens) / 1000.0) * m.CombinedPer1K
			}
		}
	}
	recordFallback(model)
	return float64(inputTokens+outputTokens) * t.DefaultPerToken()
}

func recordFallback(model string) {
	if model == "" {
		metrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
		return
	}
	metrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
}

// Package documents turns uploaded files into plain text.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/metrics"
	"github.com/Kocoro-lab/converge/internal/webpage"
)

var (
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrNoText          = errors.New("no extractable text")
)

// Extractor reads a file from disk and returns its text
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
	Name() string
}

// NewExtractor selects the extractor named in config
func NewExtractor(ctx context.Context, cfg config.DocumentsConfig, logger *zap.Logger) (Extractor, error) {
	switch strings.ToLower(cfg.Extractor) {
	case "", "local":
		return NewLocalExtractor(logger), nil
	case "documentai":
		return NewDocumentAIExtractor(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown document extractor %q", cfg.Extractor)
	}
}

// LocalExtractor parses PDF, HTML and plain text files in-process
type LocalExtractor struct {
	logger *zap.Logger
}

func NewLocalExtractor(logger *zap.Logger) *LocalExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalExtractor{logger: logger}
}

func (e *LocalExtractor) Name() string { return "local" }

func (e *LocalExtractor) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := e.extract(path)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DocumentExtractions.WithLabelValues(e.Name(), status).Inc()
	if err != nil {
		e.logger.Warn("Document extraction failed", zap.String("path", path), zap.Error(err))
	}
	return text, err
}

func (e *LocalExtractor) extract(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		_, text, err := webpage.ExtractText(f)
		if err != nil {
			return "", fmt.Errorf("html: %w", err)
		}
		return nonEmpty(text)
	case ".txt", ".md", ".markdown", ".csv", ".json", ".log":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return nonEmpty(string(b))
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
}

func extractPDF(path string) (text string, err error) {
	f, r, err := pdf.Open(path)
	if f != nil {
		defer f.Close()
	}
	if err != nil {
		return "", fmt.Errorf("pdf open: %w", err)
	}
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("pdf parse: %v", p)
		}
	}()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return nonEmpty(string(b))
}

func nonEmpty(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

package documents

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"github.com/Kocoro-lab/converge/internal/circuitbreaker"
	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/interceptors"
	"github.com/Kocoro-lab/converge/internal/metrics"
	"github.com/Kocoro-lab/converge/internal/tracing"
)

const maxDocumentAIBytes = 20 << 20

type processor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIExtractor sends files to a Google Document AI processor
type DocumentAIExtractor struct {
	client  processor
	name    string
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

// NewDocumentAIExtractor dials the regional Document AI endpoint
func NewDocumentAIExtractor(ctx context.Context, cfg config.DocumentsConfig, logger *zap.Logger) (*DocumentAIExtractor, error) {
	name := processorName(cfg.ProjectID, cfg.Location, cfg.ProcessorID)
	if name == "" {
		return nil, errors.New("documentai: project_id, location and processor_id are required")
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	c, err := documentai.NewDocumentProcessorClient(ctx,
		option.WithEndpoint(endpoint),
		option.WithGRPCDialOption(grpc.WithUnaryInterceptor(interceptors.WorkflowUnaryClientInterceptor())),
	)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	if logger != nil {
		logger.Info("Document AI initialized", zap.String("endpoint", endpoint), zap.String("processor", name))
	}
	return newDocumentAIExtractor(c, name, logger), nil
}

func newDocumentAIExtractor(c processor, name string, logger *zap.Logger) *DocumentAIExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentAIExtractor{
		client:  c,
		name:    name,
		breaker: circuitbreaker.NewRegistered("documentai", "documents", circuitbreaker.GetDocumentSettings(), logger),
		timeout: 3 * time.Minute,
		logger:  logger,
	}
}

func (e *DocumentAIExtractor) Name() string { return "documentai" }

func (e *DocumentAIExtractor) Close() error { return e.client.Close() }

func (e *DocumentAIExtractor) Extract(ctx context.Context, path string) (string, error) {
	text, err := e.extract(ctx, path)
	status := "success"
	if err != nil {
		status = "error"
		e.logger.Warn("Document AI extraction failed", zap.String("path", path), zap.Error(err))
	}
	metrics.DocumentExtractions.WithLabelValues(e.Name(), status).Inc()
	return text, err
}

func (e *DocumentAIExtractor) extract(ctx context.Context, path string) (string, error) {
	mimeType := mimeTypeFor(path)
	if mimeType == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxDocumentAIBytes {
		return "", fmt.Errorf("document too large for online processing: %d bytes", info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	ctx, span := tracing.StartSpan(ctx, "documentai.process")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var resp *documentaipb.ProcessResponse
	err = e.breaker.Execute(ctx, func() error {
		var callErr error
		resp, callErr = e.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
			Name: e.name,
			Source: &documentaipb.ProcessRequest_RawDocument{
				RawDocument: &documentaipb.RawDocument{
					Content:  data,
					MimeType: mimeType,
				},
			},
		})
		return callErr
	})
	if err != nil {
		tracing.Fail(span, err)
		return "", fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.GetDocument() == nil {
		return "", ErrNoText
	}
	return nonEmpty(resp.GetDocument().GetText())
}

func processorName(project, location, processorID string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	if project == "" || location == "" || processorID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
}

func mimeTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp":
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return ""
}

// Package academic searches arXiv for papers.
package academic

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/converge/internal/circuitbreaker"
	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/interceptors"
	"github.com/Kocoro-lab/converge/internal/metrics"
	"github.com/Kocoro-lab/converge/internal/tracing"
)

const (
	atomNS  = "http://www.w3.org/2005/Atom"
	arxivNS = "http://arxiv.org/schemas/atom"
)

var ErrUpstream = errors.New("arxiv request failed")

// Paper is one arXiv record
type Paper struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Authors         []string  `json:"authors"`
	Published       time.Time `json:"published"`
	Summary         string    `json:"summary"`
	PDFLink         string    `json:"pdf_link"`
	PrimaryCategory string    `json:"primary_category"`
	Categories      []string  `json:"categories"`
	Comment         string    `json:"comment,omitempty"`
	DOI             string    `json:"doi,omitempty"`
	JournalRef      string    `json:"journal_ref,omitempty"`
}

// Searcher is the academic search boundary
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Paper, error)
}

// ArxivClient queries the arXiv Atom API. Requests are rate limited
// (arXiv asks for at most one request every three seconds), guarded by a
// circuit breaker and retried on 5xx/429 and transport errors.
type ArxivClient struct {
	baseURL    string
	http       *circuitbreaker.HTTPWrapper
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

// NewArxivClient builds a client from config
func NewArxivClient(cfg config.AcademicConfig, maxRetries int, logger *zap.Logger) *ArxivClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1.0 / 3
	}
	return &ArxivClient{
		baseURL:    cfg.BaseURL,
		http:       circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout, Transport: interceptors.NewWorkflowHTTPRoundTripper(nil)}, "arxiv", "academic", circuitbreaker.GetAcademicSettings(), logger),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		logger:     logger,
	}
}

// Search returns up to maxResults papers ordered by relevance
func (c *ArxivClient) Search(ctx context.Context, query string, maxResults int) ([]Paper, error) {
	if maxResults <= 0 {
		maxResults = 3
	}
	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")
	endpoint := c.baseURL + "?" + params.Encode()

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, endpoint)
	defer span.End()

	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, retryable, err := c.fetch(ctx, endpoint)
		if err != nil {
			if !retryable {
				return backoff.Permanent(err)
			}
			c.logger.Warn("arXiv request failed, retrying", zap.String("query", query), zap.Error(err))
			return err
		}
		body = b
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.maxRetries, 0))), ctx)); err != nil {
		metrics.AcademicRequests.WithLabelValues("error").Inc()
		tracing.Fail(span, err)
		return nil, err
	}

	papers, err := ParseFeed(body)
	if err != nil {
		metrics.AcademicRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(papers) > maxResults {
		papers = papers[:maxResults]
	}
	metrics.AcademicRequests.WithLabelValues("success").Inc()
	return papers, nil
}

func (c *ArxivClient) fetch(ctx context.Context, endpoint string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || ctx.Err() != nil {
			return nil, false, err
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read arxiv response: %w", err)
	}
	return body, false, nil
}

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	ID         string       `xml:"http://www.w3.org/2005/Atom id"`
	Title      string       `xml:"http://www.w3.org/2005/Atom title"`
	Summary    string       `xml:"http://www.w3.org/2005/Atom summary"`
	Published  string       `xml:"http://www.w3.org/2005/Atom published"`
	Authors    []atomAuthor `xml:"http://www.w3.org/2005/Atom author"`
	Links      []atomLink   `xml:"http://www.w3.org/2005/Atom link"`
	Categories []atomTerm   `xml:"http://www.w3.org/2005/Atom category"`
	Primary    atomTerm     `xml:"http://arxiv.org/schemas/atom primary_category"`
	Comment    string       `xml:"http://arxiv.org/schemas/atom comment"`
	JournalRef string       `xml:"http://arxiv.org/schemas/atom journal_ref"`
	DOI        string       `xml:"http://arxiv.org/schemas/atom doi"`
}

type atomAuthor struct {
	Name string `xml:"http://www.w3.org/2005/Atom name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

type atomTerm struct {
	Term string `xml:"term,attr"`
}

// ParseFeed decodes an arXiv Atom response. arXiv reports query errors as a
// single entry titled "Error"; those are returned as errors.
func ParseFeed(body []byte) ([]Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode arxiv feed: %w", err)
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if strings.TrimSpace(e.Title) == "Error" && strings.Contains(e.ID, "api/errors") {
			return nil, fmt.Errorf("%w: %s", ErrUpstream, collapse(e.Summary))
		}
		p := Paper{
			ID:              strings.TrimSpace(e.ID),
			Title:           collapse(e.Title),
			Summary:         collapse(e.Summary),
			PrimaryCategory: e.Primary.Term,
			Comment:         collapse(e.Comment),
			DOI:             strings.TrimSpace(e.DOI),
			JournalRef:      collapse(e.JournalRef),
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			p.Published = t
		}
		for _, a := range e.Authors {
			if name := collapse(a.Name); name != "" {
				p.Authors = append(p.Authors, name)
			}
		}
		for _, c := range e.Categories {
			if c.Term != "" {
				p.Categories = append(p.Categories, c.Term)
			}
		}
		for _, l := range e.Links {
			if l.Title == "pdf" || l.Type == "application/pdf" {
				p.PDFLink = l.Href
				break
			}
		}
		if p.PDFLink == "" && strings.Contains(p.ID, "/abs/") {
			p.PDFLink = strings.Replace(p.ID, "/abs/", "/pdf/", 1)
		}
		papers = append(papers, p)
	}
	return papers, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

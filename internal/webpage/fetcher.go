// Package webpage fetches pages and reduces them to readable text.
package webpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/Kocoro-lab/converge/internal/circuitbreaker"
	"github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/interceptors"
	"github.com/Kocoro-lab/converge/internal/tracing"
)

var (
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrEmptyPage          = errors.New("page has no readable text")
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

const userAgent = "Mozilla/5.0 (compatible; converge/1.0)"

// Page is the readable content of a fetched URL
type Page struct {
	URL       string
	Title     string
	Text      string
	Truncated bool
}

// Fetcher downloads pages through a circuit breaker
type Fetcher struct {
	http         *circuitbreaker.HTTPWrapper
	allowPrivate bool
	maxBytes     int64
	maxChars     int
	logger       *zap.Logger
}

// NewFetcher builds a fetcher from config
func NewFetcher(cfg config.WebpageConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	client := &http.Client{
		Timeout:       timeout,
		Transport:     interceptors.NewWorkflowHTTPRoundTripper(newTransport(cfg.AllowPrivateNetworks)),
		CheckRedirect: checkRedirect,
	}
	return &Fetcher{
		http:         circuitbreaker.NewHTTPWrapper(client, "webpage", "http", circuitbreaker.GetHTTPSettings(), logger),
		allowPrivate: cfg.AllowPrivateNetworks,
		maxBytes:     maxBytes,
		maxChars:     cfg.MaxChars,
		logger:       logger,
	}
}

// Fetch retrieves rawURL and returns its text. HTML is reduced to visible
// text; text/plain and markdown are returned as-is. Unless private networks
// are allowed, URLs resolving to internal addresses fail with
// ErrBlockedAddress.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, rawURL)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	if err := checkURL(req.URL); err != nil {
		return nil, err
	}
	// literal internal IPs are rejected before they can count against the
	// breaker; resolved names are checked at dial time
	if addr, err := netip.ParseAddr(req.URL.Hostname()); err == nil && !f.allowPrivate && internalAddr(addr) {
		return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	tracing.InjectTraceparent(ctx, req)

	resp, err := f.http.Do(req)
	if err != nil {
		tracing.Fail(span, err)
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	page := &Page{URL: rawURL}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "text/plain"), strings.Contains(contentType, "text/markdown"):
		page.Text = strings.TrimSpace(string(body))
	case contentType == "", strings.Contains(contentType, "html"), strings.Contains(contentType, "xml"):
		title, text, err := ExtractText(strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", rawURL, err)
		}
		page.Title, page.Text = title, text
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
	}

	if page.Text == "" {
		return nil, ErrEmptyPage
	}
	page.Text, page.Truncated = truncate(page.Text, f.maxChars)

	f.logger.Debug("Fetched page",
		zap.String("url", rawURL),
		zap.Int("chars", len(page.Text)),
		zap.Bool("truncated", page.Truncated),
	)
	return page, nil
}

// ExtractText returns the document title and its visible text
func ExtractText(r io.Reader) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var title string
	var sb strings.Builder
	walk(doc, &sb, &title, 0)

	text := sb.String()
	text = multiSpacePattern.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = multiNewlinePattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(title), strings.TrimSpace(text), nil
}

func walk(n *html.Node, sb *strings.Builder, title *string, depth int) {
	if depth > 100 {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "form", "template":
			return
		case "title":
			if n.FirstChild != nil && *title == "" {
				*title = n.FirstChild.Data
			}
			return
		case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "blockquote", "table", "tr":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, title, depth+1)
	}
}

func truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:maxChars]), true
}

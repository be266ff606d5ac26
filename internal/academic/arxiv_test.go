package academic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/converge/internal/config"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <title>ArXiv Query</title>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <published>2024-01-02T18:00:00Z</published>
    <title>Attention Is
      Still All You Need</title>
    <summary>  We revisit attention.
      Results follow.  </summary>
    <author><name>Ada Lovelace</name></author>
    <author><name>Alan Turing</name></author>
    <arxiv:comment>12 pages</arxiv:comment>
    <arxiv:doi>10.1000/xyz</arxiv:doi>
    <link href="http://arxiv.org/abs/2401.00001v1" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2401.00001v1" rel="related" type="application/pdf"/>
    <arxiv:primary_category term="cs.CL" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.CL" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2402.00002v2</id>
    <published>2024-02-10T00:00:00Z</published>
    <title>Second Paper</title>
    <summary>Short.</summary>
    <author><name>Grace Hopper</name></author>
    <arxiv:primary_category term="cs.AI"/>
    <category term="cs.AI"/>
  </entry>
</feed>`

func testClient(baseURL string) *ArxivClient {
	c := NewArxivClient(config.AcademicConfig{
		BaseURL:           baseURL,
		RequestsPerSecond: 1000,
		Timeout:           5 * time.Second,
	}, 2, nil)
	c.baseDelay = time.Millisecond
	return c
}

func TestParseFeed(t *testing.T) {
	papers, err := ParseFeed([]byte(sampleFeed))
	require.NoError(t, err)
	require.Len(t, papers, 2)

	p := papers[0]
	assert.Equal(t, "Attention Is Still All You Need", p.Title)
	assert.Equal(t, "We revisit attention. Results follow.", p.Summary)
	assert.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, p.Authors)
	assert.Equal(t, "http://arxiv.org/pdf/2401.00001v1", p.PDFLink)
	assert.Equal(t, "cs.CL", p.PrimaryCategory)
	assert.Equal(t, []string{"cs.CL", "cs.LG"}, p.Categories)
	assert.Equal(t, "12 pages", p.Comment)
	assert.Equal(t, "10.1000/xyz", p.DOI)
	assert.Equal(t, 2024, p.Published.Year())

	// No pdf link in the feed; derived from the abs id
	assert.Equal(t, "http://arxiv.org/pdf/2402.00002v2", papers[1].PDFLink)
}

func TestParseFeedErrorEntry(t *testing.T) {
	feed := `<feed xmlns="http://www.w3.org/2005/Atom"><entry>
<id>http://arxiv.org/api/errors#incorrect_id_format</id>
<title>Error</title><summary>incorrect id format</summary></entry></feed>`
	_, err := ParseFeed([]byte(feed))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
}

func TestSearchSendsQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "quantum error correction", r.URL.Query().Get("search_query"))
		assert.Equal(t, "2", r.URL.Query().Get("max_results"))
		assert.Equal(t, "relevance", r.URL.Query().Get("sortBy"))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	papers, err := testClient(srv.URL).Search(context.Background(), "quantum error correction", 2)
	require.NoError(t, err)
	assert.Len(t, papers, 2)
}

func TestSearchTruncatesToMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	papers, err := testClient(srv.URL).Search(context.Background(), "x", 1)
	require.NoError(t, err)
	assert.Len(t, papers, 1)
}

func TestSearchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	papers, err := testClient(srv.URL).Search(context.Background(), "x", 3)
	require.NoError(t, err)
	assert.Len(t, papers, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Search(context.Background(), "x", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFormat(t *testing.T) {
	papers, err := ParseFeed([]byte(sampleFeed))
	require.NoError(t, err)

	out := Format("attention", papers)
	assert.Contains(t, out, "Title: Attention Is Still All You Need\n")
	assert.Contains(t, out, "Authors: Ada Lovelace, Alan Turing\n")
	assert.Contains(t, out, "Published: 2024-01-02\n")
	assert.Contains(t, out, "PDF Link: http://arxiv.org/pdf/2401.00001v1\n")
	assert.Contains(t, out, "Categories: cs.CL, cs.LG")
	assert.Contains(t, out, "DOI: 10.1000/xyz")
	assert.Contains(t, out, "\n\n---\n\nTitle: Second Paper")
	assert.NotContains(t, out, "Journal Reference:")
}

func TestFormatEmptyAndError(t *testing.T) {
	assert.Equal(t, "No results found on ArXiv for query: dark matter", Format("dark matter", nil))
	assert.Equal(t, "Error during ArXiv search for query 'q': boom", FormatError("q", errors.New("boom")))
}

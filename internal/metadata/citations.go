package metadata

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ShortCodePrefix is the stable prefix every minted short code starts with.
// Codes look like "<prefix><unitID>-<chunkIndex>".
const ShortCodePrefix = "https://vertexaisearch.cloud.google.com/id/"

// GroundingChunk is one retrieved web source returned with a grounded answer
type GroundingChunk struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GroundingSupport ties a span of the generated text to the chunks backing it.
// Offsets are byte offsets into the generated text.
type GroundingSupport struct {
	StartIndex   int   `json:"start_index"`
	EndIndex     int   `json:"end_index"`
	ChunkIndices []int `json:"chunk_indices"`
}

// Segment is the span of generated text a source was matched to
type Segment struct {
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Text       string `json:"text,omitempty"`
}

// Source links a short code to the full URL it stands for
type Source struct {
	Label     string    `json:"label"`
	ShortCode string    `json:"short_url"`
	Value     string    `json:"value"`
	Segments  []Segment `json:"segments,omitempty"`
}

// Citation groups the sources backing one span of generated text
type Citation struct {
	StartIndex int      `json:"start_index"`
	EndIndex   int      `json:"end_index"`
	Sources    []Source `json:"sources"`
}

// ResolveURLs mints a short code for every distinct chunk URI, scoped to
// unitID. A URI seen more than once keeps the code of its first occurrence.
// Codes are not shared across units: the same URI resolved for two different
// unit ids yields two different codes.
func ResolveURLs(chunks []GroundingChunk, unitID int) map[string]string {
	resolved := make(map[string]string, len(chunks))
	for idx, chunk := range chunks {
		if chunk.URI == "" {
			continue
		}
		if _, ok := resolved[chunk.URI]; ok {
			continue
		}
		resolved[chunk.URI] = ShortCodePrefix + strconv.Itoa(unitID) + "-" + strconv.Itoa(idx)
	}
	return resolved
}

// BuildCitations turns grounding supports into citations whose sources carry
// the resolved short codes. Supports without an end offset and chunk indices
// that fall outside the chunk list are skipped.
func BuildCitations(text string, chunks []GroundingChunk, supports []GroundingSupport, resolved map[string]string) []Citation {
	citations := make([]Citation, 0, len(supports))
	for _, support := range supports {
		if support.EndIndex <= 0 {
			continue
		}
		c := Citation{StartIndex: support.StartIndex, EndIndex: support.EndIndex}
		seg := Segment{StartIndex: support.StartIndex, EndIndex: support.EndIndex, Text: sliceText(text, support.StartIndex, support.EndIndex)}
		for _, ci := range support.ChunkIndices {
			if ci < 0 || ci >= len(chunks) {
				continue
			}
			chunk := chunks[ci]
			code, ok := resolved[chunk.URI]
			if !ok {
				continue
			}
			c.Sources = append(c.Sources, Source{
				Label:     Label(chunk),
				ShortCode: code,
				Value:     chunk.URI,
				Segments:  []Segment{seg},
			})
		}
		if len(c.Sources) > 0 {
			citations = append(citations, c)
		}
	}
	return citations
}

// Sources flattens citations into the records contributed to the session
func Sources(citations []Citation) []Source {
	var out []Source
	for _, c := range citations {
		out = append(out, c.Sources...)
	}
	return out
}

// InsertCitationMarkers appends " [label](shortCode)" markers after each
// cited span. Citations are applied from the highest end offset down so
// earlier offsets stay valid. Offsets past the end of text are clamped and
// offsets inside a multi-byte rune move forward to the next rune boundary.
func InsertCitationMarkers(text string, citations []Citation) string {
	sorted := make([]Citation, len(citations))
	copy(sorted, citations)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].EndIndex != sorted[j].EndIndex {
			return sorted[i].EndIndex > sorted[j].EndIndex
		}
		return sorted[i].StartIndex > sorted[j].StartIndex
	})

	out := text
	for _, c := range sorted {
		var marker strings.Builder
		for _, s := range c.Sources {
			marker.WriteString(" [")
			marker.WriteString(s.Label)
			marker.WriteString("](")
			marker.WriteString(s.ShortCode)
			marker.WriteString(")")
		}
		at := runeBoundary(out, c.EndIndex)
		out = out[:at] + marker.String() + out[at:]
	}
	return out
}

// FilterUsedSources keeps the sources whose short code appears in text and
// swaps each kept code for its full value. A code counts as present only when
// it is not immediately followed by another digit, so "…/id/1-1" does not
// match inside "…/id/1-10". Once a code is substituted later duplicates no
// longer match, so the first record for a code wins.
func FilterUsedSources(text string, sources []Source) (string, []Source, int) {
	kept := make([]Source, 0, len(sources))
	dropped := 0
	for _, s := range sources {
		if s.ShortCode == "" || !containsCode(text, s.ShortCode) {
			dropped++
			continue
		}
		text = replaceCode(text, s.ShortCode, s.Value)
		kept = append(kept, s)
	}
	return text, kept, dropped
}

// Label derives the short marker label for a chunk: the title up to its
// first dot ("wikipedia.org" -> "wikipedia"), or the host when the chunk
// carries no title.
func Label(chunk GroundingChunk) string {
	title := strings.TrimSpace(chunk.Title)
	if title == "" {
		if host, err := ExtractDomain(chunk.URI); err == nil && host != "" {
			title = host
		} else {
			return "source"
		}
	}
	if i := strings.Index(title, "."); i > 0 {
		return title[:i]
	}
	return title
}

// ExtractDomain returns the lowercase host from a URL without port or "www."
func ExtractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www."), nil
}

func containsCode(text, code string) bool {
	return indexCode(text, code, 0) >= 0
}

func replaceCode(text, code, value string) string {
	var b strings.Builder
	from := 0
	for {
		i := indexCode(text, code, from)
		if i < 0 {
			break
		}
		b.WriteString(text[from:i])
		b.WriteString(value)
		from = i + len(code)
	}
	if from == 0 {
		return text
	}
	b.WriteString(text[from:])
	return b.String()
}

// indexCode finds code in text at or after from, skipping occurrences that
// continue with a digit.
func indexCode(text, code string, from int) int {
	for from <= len(text) {
		i := strings.Index(text[from:], code)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(code)
		if end >= len(text) || text[end] < '0' || text[end] > '9' {
			return i
		}
		from = i + 1
	}
	return -1
}

func runeBoundary(text string, at int) int {
	if at <= 0 {
		return 0
	}
	if at >= len(text) {
		return len(text)
	}
	for at < len(text) && !utf8.RuneStart(text[at]) {
		at++
	}
	return at
}

func sliceText(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	end = runeBoundary(text, end)
	start = runeBoundary(text, start)
	if start >= end {
		return ""
	}
	return text[start:end]
}

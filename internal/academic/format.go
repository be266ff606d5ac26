package academic

import (
	"fmt"
	"strings"
)

// Format renders papers as text blocks separated by "---" lines. Optional
// fields (comment, DOI, journal reference) are omitted when arXiv has none.
func Format(query string, papers []Paper) string {
	if len(papers) == 0 {
		return fmt.Sprintf("No results found on ArXiv for query: %s", query)
	}
	blocks := make([]string, 0, len(papers))
	for _, p := range papers {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Title: %s\n", p.Title))
		sb.WriteString(fmt.Sprintf("Authors: %s\n", strings.Join(p.Authors, ", ")))
		if !p.Published.IsZero() {
			sb.WriteString(fmt.Sprintf("Published: %s\n", p.Published.Format("2006-01-02")))
		}
		sb.WriteString(fmt.Sprintf("Summary: %s\n", p.Summary))
		sb.WriteString(fmt.Sprintf("PDF Link: %s\n", p.PDFLink))
		sb.WriteString(fmt.Sprintf("Primary Category: %s\n", p.PrimaryCategory))
		sb.WriteString(fmt.Sprintf("Categories: %s", strings.Join(p.Categories, ", ")))
		if p.Comment != "" {
			sb.WriteString(fmt.Sprintf("\nComment: %s", p.Comment))
		}
		if p.DOI != "" {
			sb.WriteString(fmt.Sprintf("\nDOI: %s", p.DOI))
		}
		if p.JournalRef != "" {
			sb.WriteString(fmt.Sprintf("\nJournal Reference: %s", p.JournalRef))
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// FormatError renders a failed search as an inline diagnostic block
func FormatError(query string, err error) string {
	return fmt.Sprintf("Error during ArXiv search for query '%s': %v", query, err)
}

// Package format joins per-page results into the document's full text.
package format

import (
	"fmt"
	"strings"

	"github.com/toricodesthings/text-extraction-service/internal/types"
)

const pageSeparator = "\n\n"

// Marker is the boundary line written above a page's text. OCR pages name
// the backend that produced them.
func Marker(p types.PageResult) string {
	if p.UsedOCR() {
		return fmt.Sprintf("--- Page %d (OCR: %s) ---", p.PageNumber, p.ExtractionMethod)
	}
	return fmt.Sprintf("--- Page %d ---", p.PageNumber)
}

// Combine joins the non-empty pages in the order given. With markers off
// pages are only separated by a blank line.
func Combine(pages []types.PageResult, includeMarkers bool) string {
	var b strings.Builder
	first := true
	for _, p := range pages {
		txt := strings.TrimSpace(p.Text)
		if txt == "" {
			continue
		}
		if !first {
			b.WriteString(pageSeparator)
		}
		first = false
		if includeMarkers {
			b.WriteString(Marker(p))
			b.WriteString("\n")
		}
		b.WriteString(txt)
	}
	return b.String()
}

// CountWords is the whitespace-token count used for WordCount fields.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

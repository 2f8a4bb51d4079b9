package text

import (
	"regexp"
	"strings"
)

// Page is one page-equivalent segment of a converted document.
type Page struct {
	Index int
	Text  string
}

var imagePlaceholderRe = regexp.MustCompile(`(?m)^<!--\s*image\s*-->\s*$`)

// SplitPages splits a converted markdown stream on the page-break placeholder
// the conversion service was configured with. Indices start at 0 and follow
// document order; N placeholders yield exactly N+1 pages. Segments are kept
// even when empty so page indices stay aligned with rendered images.
func SplitPages(markdown, placeholder string) []Page {
	segments := strings.Split(markdown, placeholder)
	pages := make([]Page, 0, len(segments))
	for i, seg := range segments {
		pages = append(pages, Page{Index: i, Text: NormalizePageText(seg)})
	}
	return pages
}

// NormalizePageText strips conversion artifacts that carry no retrievable
// content: image placeholders and surrounding whitespace.
func NormalizePageText(s string) string {
	s = imagePlaceholderRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// CountEmbeddable reports how many pages have non-empty text.
func CountEmbeddable(pages []Page) int {
	n := 0
	for _, p := range pages {
		if p.Text != "" {
			n++
		}
	}
	return n
}

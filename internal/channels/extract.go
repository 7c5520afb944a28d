package channels

import (
	"regexp"
	"sort"
	"strings"
)

// Image is an image reference extracted from agent output.
type Image struct {
	URL string
	Alt string
}

// Document is a local-file attachment requested by the agent via a
// DOCUMENT: sentinel line.
type Document struct {
	Path    string
	Caption string
}

// Extraction is the attachment set pulled from one response, with the
// remaining text cleaned of attachment syntax. Attachment order
// matches source order.
type Extraction struct {
	Text      string
	Images    []Image
	Documents []Document
}

var (
	markdownImageRe = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)
	htmlImageRe     = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["'][^>]*>`)
	documentLineRe  = regexp.MustCompile(`(?m)^DOCUMENT:([^|\n]+)(?:\|(.*))?$`)

	imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}
	imageHosts      = []string{"fal.media", "fal-cdn", "replicate.delivery"}
)

// IsImageURL reports whether a URL plausibly points at an image: a
// known image extension or a known image-hosting domain.
func IsImageURL(url string) bool {
	lower := strings.ToLower(url)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	for _, host := range imageHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

// ExtractAttachments pulls images and document sentinels out of agent
// text. Markdown and HTML image references whose URL does not look
// like an image are left in place. Extraction order follows source
// position regardless of syntax.
func ExtractAttachments(text string) Extraction {
	type span struct {
		start, end int
		image      *Image
		doc        *Document
	}
	var spans []span

	for _, m := range markdownImageRe.FindAllStringSubmatchIndex(text, -1) {
		url := text[m[4]:m[5]]
		if !IsImageURL(url) {
			continue
		}
		spans = append(spans, span{
			start: m[0], end: m[1],
			image: &Image{URL: url, Alt: text[m[2]:m[3]]},
		})
	}
	for _, m := range htmlImageRe.FindAllStringSubmatchIndex(text, -1) {
		url := text[m[2]:m[3]]
		if !IsImageURL(url) {
			continue
		}
		spans = append(spans, span{start: m[0], end: m[1], image: &Image{URL: url}})
	}
	for _, m := range documentLineRe.FindAllStringSubmatchIndex(text, -1) {
		doc := &Document{Path: strings.TrimSpace(text[m[2]:m[3]])}
		if m[4] >= 0 {
			doc.Caption = strings.TrimSpace(text[m[4]:m[5]])
		}
		spans = append(spans, span{start: m[0], end: m[1], doc: doc})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var images []Image
	var docs []Document
	var cleaned strings.Builder
	prev := 0
	for _, sp := range spans {
		if sp.start < prev {
			continue // overlapping match already consumed
		}
		cleaned.WriteString(text[prev:sp.start])
		prev = sp.end
		if sp.image != nil {
			images = append(images, *sp.image)
		} else {
			docs = append(docs, *sp.doc)
		}
	}
	cleaned.WriteString(text[prev:])

	return Extraction{
		Text:      tidyWhitespace(cleaned.String()),
		Images:    images,
		Documents: docs,
	}
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// tidyWhitespace collapses the holes extraction leaves behind.
func tidyWhitespace(s string) string {
	return strings.TrimSpace(blankRunRe.ReplaceAllString(s, "\n\n"))
}

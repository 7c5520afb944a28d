package channels

import "strings"

// SplitMessage breaks content into chunks of at most limit runes-worth
// of bytes, preferring to cut at a newline, then a space, then hard.
// The separator consumed by a soft cut is dropped, so rejoining the
// chunks with that whitespace reproduces the original.
func SplitMessage(content string, limit int) []string {
	if limit <= 0 || len(content) <= limit {
		return []string{content}
	}

	var chunks []string
	rest := content
	for len(rest) > limit {
		window := rest[:limit+1]

		cut := strings.LastIndexByte(window, '\n')
		drop := 1
		if cut <= 0 {
			cut = strings.LastIndexByte(window, ' ')
		}
		if cut <= 0 {
			cut = limit
			drop = 0
		}

		chunks = append(chunks, rest[:cut])
		rest = rest[cut+drop:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

package channels

// Fallback shape for messages the platform rejected as markdown: resend
// the body as plain text behind a short notice, capped so the fallback
// itself cannot exceed any platform limit.
const (
	fallbackPrefix = "(Response formatting failed, plain text:)\n\n"
	fallbackLimit  = 3500
)

// PlainFallback builds the plain-text resend body for a rejected
// markdown message.
func PlainFallback(content string) string {
	if len(content) > fallbackLimit {
		content = content[:fallbackLimit]
	}
	return fallbackPrefix + content
}

package channels

import (
	"strings"
	"testing"
)

func TestSplitMessageShortContentUntouched(t *testing.T) {
	content := strings.Repeat("a", 100)
	chunks := SplitMessage(content, 100)
	if len(chunks) != 1 || chunks[0] != content {
		t.Errorf("content at exactly the limit must not split, got %d chunks", len(chunks))
	}
}

func TestSplitMessagePrefersNewline(t *testing.T) {
	content := strings.Repeat("x", 50) + "\n" + strings.Repeat("y", 60)
	chunks := SplitMessage(content, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0] != strings.Repeat("x", 50) {
		t.Errorf("first chunk = %q, want the text before the newline", chunks[0])
	}
	if chunks[1] != strings.Repeat("y", 60) {
		t.Errorf("second chunk = %q", chunks[1])
	}
}

func TestSplitMessageFallsBackToSpace(t *testing.T) {
	content := strings.Repeat("x", 50) + " " + strings.Repeat("y", 60)
	chunks := SplitMessage(content, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0] != strings.Repeat("x", 50) {
		t.Errorf("first chunk = %q", chunks[0])
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	content := strings.Repeat("z", 250)
	chunks := SplitMessage(content, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d has %d bytes, limit 100", i, len(c))
		}
	}
	if strings.Join(chunks, "") != content {
		t.Error("hard-cut chunks do not rejoin to the original")
	}
}

func TestSplitMessageLimitPlusOne(t *testing.T) {
	// One byte over the limit with a newline inside: exactly one split
	// at that newline.
	content := strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 60)
	chunks := SplitMessage(content, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 40) || chunks[1] != strings.Repeat("b", 60) {
		t.Errorf("split at wrong point: %q | %q", chunks[0], chunks[1])
	}
}

func TestSplitMessageRoundTrip(t *testing.T) {
	content := "para one\n\npara two with some words\nline three " +
		strings.Repeat("w ", 80) + "\nfinal line"
	chunks := SplitMessage(content, 60)

	for i, c := range chunks {
		if len(c) > 60 {
			t.Errorf("chunk %d over limit: %d bytes", i, len(c))
		}
	}
	// Rejoining with single spaces/newlines normalized must give back
	// the original words in order.
	rejoined := strings.Join(chunks, " ")
	if strings.Join(strings.Fields(rejoined), " ") != strings.Join(strings.Fields(content), " ") {
		t.Error("words lost or reordered across the split")
	}
}

package delivery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalSink writes delivered content as timestamped markdown files,
// grouped by job id.
type LocalSink struct {
	root string
}

// NewLocalSink roots the sink at dir.
func NewLocalSink(dir string) *LocalSink {
	return &LocalSink{root: dir}
}

// Write persists one delivery and returns the file path. Files land at
// <root>/<job_id|misc>/<YYYYMMDD_HHMMSS>.md; same-second collisions get
// a short unique suffix.
func (s *LocalSink) Write(content string, meta Meta) (string, error) {
	group := meta.JobID
	if group == "" {
		group = "misc"
	}
	dir := filepath.Join(s.root, group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("local sink: %w", err)
	}

	now := time.Now()
	stamp := now.Format("20060102_150405")
	path := filepath.Join(dir, stamp+".md")
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(dir, stamp+"_"+uuid.NewString()[:8]+".md")
	}

	body := s.render(content, meta, now)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("local sink: %w", err)
	}
	return path, nil
}

func (s *LocalSink) render(content string, meta Meta, now time.Time) string {
	var b strings.Builder

	title := meta.JobName
	if title == "" {
		title = "Gateway Output"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Timestamp:** %s\n", now.Format(time.RFC3339))
	if meta.JobID != "" {
		fmt.Fprintf(&b, "**Job ID:** %s\n", meta.JobID)
	}
	for _, key := range sortedKeys(meta.Metadata) {
		fmt.Fprintf(&b, "**%s:** %s\n", key, meta.Metadata[key])
	}
	b.WriteString("\n---\n\n")
	b.WriteString(content)
	b.WriteString("\n")
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

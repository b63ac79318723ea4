package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

type SourceType string

const (
	SourceURL  SourceType = "url"
	SourcePDF  SourceType = "pdf"
	SourceText SourceType = "text"
	SourceRSS  SourceType = "rss"

	// maxInputSize is the maximum allowed size for input content (25 MB).
	maxInputSize = 25 * 1024 * 1024

	// rssPrefix forces feed parsing for URLs that do not look like feeds.
	rssPrefix = "rss+"

	maxTitleRunes = 80
)

func (s SourceType) String() string {
	return string(s)
}

// Content is the text extracted from a seed source.
type Content struct {
	Text      string
	Title     string
	Source    string
	WordCount int
}

type Ingester interface {
	Ingest(ctx context.Context, source string) (*Content, error)
}

func DetectSource(input string) SourceType {
	lower := strings.ToLower(input)
	if strings.HasPrefix(lower, rssPrefix) {
		return SourceRSS
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		path := lower
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
		if strings.HasSuffix(path, ".rss") || strings.HasSuffix(path, ".xml") ||
			strings.HasSuffix(path, "/feed") || strings.HasSuffix(path, "/rss") || strings.HasSuffix(path, ".atom") {
			return SourceRSS
		}
		return SourceURL
	}
	if strings.HasSuffix(lower, ".pdf") {
		return SourcePDF
	}
	return SourceText
}

func NewIngester(input string) Ingester {
	switch DetectSource(input) {
	case SourceURL:
		return &URLIngester{}
	case SourceRSS:
		return &RSSIngester{Limit: defaultFeedItems}
	case SourcePDF:
		return &PDFIngester{}
	default:
		return &TextIngester{}
	}
}

// Ingest detects the source type and extracts its content.
func Ingest(ctx context.Context, source string) (*Content, error) {
	c, err := NewIngester(source).Ingest(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", DetectSource(source), err)
	}
	return c, nil
}

// Topic condenses content into a conversation topic: the title followed by
// at most maxWords words of the body.
func Topic(c *Content, maxWords int) string {
	body := strings.Fields(c.Text)
	truncated := false
	if maxWords > 0 && len(body) > maxWords {
		body = body[:maxWords]
		truncated = true
	}
	excerpt := strings.Join(body, " ")
	if truncated {
		excerpt += "..."
	}
	if c.Title == "" || c.Title == "Untitled" || strings.HasPrefix(excerpt, c.Title) {
		return excerpt
	}
	if excerpt == "" {
		return c.Title
	}
	return c.Title + ": " + excerpt
}

var errNoText = errors.New("no text")

// newContent normalizes extracted text. A blank title falls back to the
// first line of the text.
func newContent(text, title, source string) (*Content, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errNoText
	}
	if title = strings.TrimSpace(title); title == "" {
		title = titleFromText(text, maxTitleRunes)
	}
	return &Content{
		Text:      text,
		Title:     title,
		Source:    source,
		WordCount: len(strings.Fields(text)),
	}, nil
}

func titleFromText(text string, maxLen int) string {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		line = text[:idx]
	}
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > maxLen {
		line = string(r[:maxLen]) + "..."
	}
	if line == "" {
		return "Untitled"
	}
	return line
}

func validateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}
	if info.Size() > maxInputSize {
		return fmt.Errorf("%s is too large (%d MB, max %d MB)", path, info.Size()/(1024*1024), maxInputSize/(1024*1024))
	}
	return nil
}

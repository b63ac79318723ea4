package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
)

const (
	defaultFeedItems = 5
	maxSummaryRunes  = 200
	fetchTimeout     = 30 * time.Second
)

// fetch GETs source and returns the body capped at maxInputSize. The caller
// closes it.
func fetch(ctx context.Context, client *http.Client, source string) (io.ReadCloser, error) {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", source, err)
	}
	req.Header.Set("User-Agent", "dualogue/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: HTTP %d", source, resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxInputSize), resp.Body}, nil
}

// URLIngester extracts the main article of a web page.
type URLIngester struct {
	Client *http.Client
}

func (u *URLIngester) Ingest(ctx context.Context, source string) (*Content, error) {
	pageURL, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", source, err)
	}
	body, err := fetch(ctx, u.Client, source)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("extract article from %s: %w", source, err)
	}
	c, err := newContent(article.TextContent, article.Title, source)
	if err != nil {
		return nil, fmt.Errorf("no readable content at %s", source)
	}
	return c, nil
}

// RSSIngester turns the newest items of an RSS or Atom feed into a bulleted
// digest: one "- title: summary" line per item.
type RSSIngester struct {
	Client *http.Client
	// Limit caps the number of items used; zero or less means all.
	Limit int
}

func (f *RSSIngester) Ingest(ctx context.Context, source string) (*Content, error) {
	feedURL := source
	if strings.HasPrefix(strings.ToLower(feedURL), rssPrefix) {
		feedURL = feedURL[len(rssPrefix):]
	}
	body, err := fetch(ctx, f.Client, feedURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("could not parse feed %s: %w", feedURL, err)
	}

	var lines []string
	for _, item := range newestFirst(feed.Items) {
		if f.Limit > 0 && len(lines) == f.Limit {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		line := "- " + title
		if summary := summarize(item.Description); summary != "" {
			line += ": " + summary
		}
		lines = append(lines, line)
	}

	c, err := newContent(strings.Join(lines, "\n"), feed.Title, feedURL)
	if err != nil {
		return nil, fmt.Errorf("feed %s has no items", feedURL)
	}
	return c, nil
}

// newestFirst orders items by publish date. Undated items keep their place.
func newestFirst(items []*gofeed.Item) []*gofeed.Item {
	sorted := append([]*gofeed.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].PublishedParsed, sorted[j].PublishedParsed
		return ti != nil && tj != nil && ti.After(*tj)
	})
	return sorted
}

var htmlTag = regexp.MustCompile("<[^>]*>")

// summarize strips markup from a feed description and caps its length.
func summarize(description string) string {
	s := strings.Join(strings.Fields(htmlTag.ReplaceAllString(description, "")), " ")
	if r := []rune(s); len(r) > maxSummaryRunes {
		return string(r[:maxSummaryRunes])
	}
	return s
}

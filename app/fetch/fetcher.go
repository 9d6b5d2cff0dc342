package fetch

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/feedcourier/feedcourier/app/database"
)

// Candidate is one externally fetched item, cleaned of wire-format specifics
type Candidate struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	ImageURL    string
	PublishedAt *time.Time
	Categories  []string
}

type Result struct {
	NotModified  bool
	Etag         string
	LastModified string
	DetectedType string
	Items        []Candidate
}

type Fetcher interface {
	Fetch(ctx context.Context, feed *database.Feed) (*Result, error)
}

var _ Fetcher = (*HTTPFetcher)(nil)

type HTTPFetcher struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	userAgent  string
}

func NewHTTPFetcher(httpClient *http.Client, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: httpClient,
		parser:     gofeed.NewParser(),
		userAgent:  userAgent,
	}
}

// Fetch performs a conditional GET for the feed and parses the response.
// A 304 response yields Result.NotModified with no items.
func (f *HTTPFetcher) Fetch(ctx context.Context, feed *database.Feed) (*Result, error) {
	timeout := time.Duration(feed.FetchTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	if feed.Etag != "" {
		req.Header.Set("If-None-Match", feed.Etag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			NotModified:  true,
			Etag:         feed.Etag,
			LastModified: feed.LastModified,
			DetectedType: feed.DetectedFormat,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	parsed, err := f.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	result := &Result{
		Etag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		DetectedType: parsed.FeedType,
	}

	result.Items = make([]Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		result.Items = append(result.Items, normalizeItem(item))
	}

	return result, nil
}

func normalizeItem(item *gofeed.Item) Candidate {
	candidate := Candidate{
		GUID:        cmp.Or(item.GUID, item.Link),
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Description,
		Content:     item.Content,
		Author:      extractAuthor(item),
	}

	if item.PublishedParsed != nil {
		candidate.PublishedAt = item.PublishedParsed
	}

	if item.Image != nil {
		candidate.ImageURL = item.Image.URL
	}

	if item.Categories != nil {
		candidate.Categories = item.Categories
	}

	return candidate
}

func extractAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return formatAuthor(item.Authors[0].Name, item.Authors[0].Email)
	}
	if item.Author != nil {
		return formatAuthor(item.Author.Name, item.Author.Email)
	}
	return ""
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	}

	return email
}

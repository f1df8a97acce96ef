package linkpreview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Preview holds the Open Graph metadata scraped from a linked page.
type Preview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Fetcher scrapes link previews with a bounded timeout and body size.
type Fetcher struct {
	client      *http.Client
	maxBodySize int64
}

// NewFetcher creates a fetcher.
func NewFetcher(timeout time.Duration, maxBodySize int64) *Fetcher {
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		maxBodySize: maxBodySize,
	}
}

var urlRegexp = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractURL returns the first http(s) URL in the content, or "".
func ExtractURL(content string) string {
	return urlRegexp.FindString(content)
}

// PreviewJSON scrapes the first URL in content and returns the preview as a
// JSON string for storage on the message, or "" when content has no URL or
// the page could not be scraped. Scrape failures are not errors for the
// send path; a message without a preview is still a message.
func (f *Fetcher) PreviewJSON(ctx context.Context, content string) string {
	url := ExtractURL(content)
	if url == "" {
		return ""
	}

	preview, err := f.Fetch(ctx, url)
	if err != nil {
		return ""
	}
	data, err := json.Marshal(preview)
	if err != nil {
		return ""
	}
	return string(data)
}

// Fetch retrieves the page and extracts its Open Graph tags.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Preview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "my-chat-app-linkpreview/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("not an html page: %s", ct)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, err
	}

	preview := &Preview{
		URL:         url,
		Title:       metaContent(doc, "og:title"),
		Description: metaContent(doc, "og:description"),
		Image:       metaContent(doc, "og:image"),
	}
	if preview.Title == "" {
		preview.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if preview.Description == "" {
		preview.Description, _ = doc.Find(`meta[name="description"]`).Attr("content")
	}
	return preview, nil
}

func metaContent(doc *goquery.Document, property string) string {
	content, _ := doc.Find(fmt.Sprintf(`meta[property=%q]`, property)).Attr("content")
	return strings.TrimSpace(content)
}

package unblocker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/musicaftersex/brightdata-mcp/connectivity"
	"github.com/musicaftersex/brightdata-mcp/toolerr"
)

// Format selects how the unblocker returns a page.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

type requestBody struct {
	URL        string `json:"url"`
	Zone       string `json:"zone"`
	Format     string `json:"format"`
	DataFormat string `json:"data_format,omitempty"`
}

// Scrape fetches rawURL through the unlocker zone, bypassing bot detection
// and CAPTCHAs, and returns the page as markdown or raw HTML.
func (c *Client) Scrape(ctx context.Context, rawURL string, format Format) (string, error) {
	body := requestBody{URL: rawURL, Zone: c.unlockerZone, Format: "raw"}
	switch format {
	case FormatMarkdown, "":
		body.DataFormat = "markdown"
	case FormatHTML:
	default:
		return "", fmt.Errorf("unblocker: unknown format %q", format)
	}
	resp, err := c.do(ctx, &connectivity.Request{
		Method: http.MethodPost,
		Path:   "/request",
		Body:   jsonBody(body),
	})
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// Engine is a supported search engine.
type Engine string

const (
	Google Engine = "google"
	Bing   Engine = "bing"
	Yandex Engine = "yandex"
)

// Engines lists the supported search engines.
var Engines = []Engine{Google, Bing, Yandex}

// SearchURL builds the result page URL for query on engine. cursor is the
// zero-based page index as a decimal string; empty means the first page.
func SearchURL(engine Engine, query, cursor string) (string, error) {
	page := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return "", toolerr.User("cursor must be a non-negative page number, got %q", cursor)
		}
		page = n
	}
	q := url.QueryEscape(strings.TrimSpace(query))
	switch engine {
	case Google, "":
		return fmt.Sprintf("https://www.google.com/search?q=%s&start=%d", q, page*10), nil
	case Bing:
		return fmt.Sprintf("https://www.bing.com/search?q=%s&first=%d", q, page*10+1), nil
	case Yandex:
		return fmt.Sprintf("https://yandex.com/search/?text=%s&p=%d", q, page), nil
	}
	return "", toolerr.User("unsupported search engine %q (use google, bing or yandex)", engine)
}

// Search returns the markdown rendering of one search result page.
func (c *Client) Search(ctx context.Context, engine Engine, query, cursor string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", toolerr.User("query is required")
	}
	u, err := SearchURL(engine, query, cursor)
	if err != nil {
		return "", err
	}
	return c.Scrape(ctx, u, FormatMarkdown)
}

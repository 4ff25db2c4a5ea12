// Package fetch retrieves a single feed URL and turns it into raw items.
//
// Nothing here is shared between calls: every fetch builds its own parser, so a
// [Fetcher] is safe to use from any number of goroutines.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

const (
	DefaultTimeout = 10 * time.Second

	maxBodySize    = 5 << 20
	maxSnippetSize = 2048
	userAgent      = "gleaner/1.0 (+feed fetcher)"
)

type (
	// Result is a parsed feed.
	Result struct {
		Title       string
		Description string
		Items       []RawItem
	}

	// RawItem is an entry as the source presented it, before any normalization.
	// Empty strings mean the source didn't supply the field.
	RawItem struct {
		Title       string
		Link        string
		Description string // Content snippet or summary, stripped of html
		GUID        string
		PubDate     string
	}
)

// Kind classifies why a fetch failed.
type Kind string

const (
	KindTimeout Kind = "timeout"
	KindNetwork Kind = "network"
	KindStatus  Kind = "status"
	KindParse   Kind = "parse"
)

// FetchError is returned for every way a fetch can fail.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int // Only set for KindStatus
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetching %s: unexpected status code %d", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("fetching %s: %s: %s", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher fetches feeds over HTTP with a fixed timeout and no retries.
type Fetcher struct {
	client *http.Client
}

// New creates a Fetcher. A non-positive timeout falls back to [DefaultTimeout].
func New(timeout time.Duration) Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// ValidateURL checks that raw is an absolute http(s) URL.
func ValidateURL(raw string) error {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url is missing a host")
	}

	return nil
}

// Fetch goes to the url and parses whatever feed format it finds there.
func (f Fetcher) Fetch(ctx context.Context, feedURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return Result{}, &FetchError{Kind: KindNetwork, URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, &FetchError{Kind: transportKind(err), URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &FetchError{Kind: KindStatus, URL: feedURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Result{}, &FetchError{Kind: transportKind(err), URL: feedURL, Err: err}
	}

	return Parse(feedURL, body)
}

// Parse turns a feed document into a [Result].
func Parse(feedURL string, body []byte) (Result, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return Result{}, &FetchError{Kind: KindParse, URL: feedURL, Err: err}
	}

	res := Result{
		Title:       strings.TrimSpace(parsed.Title),
		Description: snippet(parsed.Description),
		Items:       make([]RawItem, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		res.Items = append(res.Items, rawItem(item))
	}

	return res, nil
}

func rawItem(item *gofeed.Item) RawItem {
	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}

	desc := snippet(item.Description)
	if desc == "" {
		desc = snippet(item.Content)
	}

	pubDate := item.Published
	if pubDate == "" {
		pubDate = item.Updated
	}

	return RawItem{
		Title:       strings.TrimSpace(html.UnescapeString(item.Title)),
		Link:        link,
		Description: desc,
		GUID:        strings.TrimSpace(item.GUID),
		PubDate:     strings.TrimSpace(pubDate),
	}
}

func transportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindNetwork
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the string, usually a description.
//
// Also limits the length of the string so there's not a massive chunk of text being output.
func snippet(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = stripPolicy.Sanitize(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(html.UnescapeString(s)), " ")
	if len(s) <= maxSnippetSize {
		return s
	}

	// Back off a rune the cut landed inside of.
	cut := maxSnippetSize
	for i := 0; i < utf8.UTFMax-1 && !utf8.RuneStart(s[cut]); i++ {
		cut--
	}

	return s[:cut]
}

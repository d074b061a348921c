package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

// Page is the rendered content of a question page.
type Page struct {
	FinalURL string
	HTML     string
	Text     string
	Links    []string
}

// LoadError reports a page that could not be rendered.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading page %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader renders pages with a headless browser so JS-generated quiz
// content is visible to the solver.
type Loader struct {
	Timeout  time.Duration
	MaxChars int
	Headless bool
}

// NewLoader creates a loader with the given bounds.
func NewLoader(timeout time.Duration, maxChars int, headless bool) *Loader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 20000
	}
	return &Loader{Timeout: timeout, MaxChars: maxChars, Headless: headless}
}

// Load navigates to url, waits for the document body, and returns the
// rendered HTML, the readable text, and all absolute links. When selector
// is non-empty, HTML and text are scoped to the first matching element.
func (l *Loader) Load(ctx context.Context, pageURL, selector string) (*Page, error) {
	if strings.TrimSpace(pageURL) == "" {
		return nil, &LoadError{URL: pageURL, Err: fmt.Errorf("empty url")}
	}

	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
		chromedp.UserAgent("TDS-Quiz-Solver/1.0"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	target := "html"
	if strings.TrimSpace(selector) != "" {
		target = selector
	}

	var html, finalURL string
	var hrefs []string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML(target, &html, chromedp.ByQuery),
		chromedp.Evaluate(`Array.from(document.querySelectorAll("a[href]")).map(a => a.href)`, &hrefs),
	)
	if err != nil {
		return nil, &LoadError{URL: pageURL, Err: err}
	}
	if finalURL == "" {
		finalURL = pageURL
	}

	text := extractText(html, finalURL)
	if len(text) > l.MaxChars {
		text = text[:l.MaxChars]
	}

	return &Page{
		FinalURL: finalURL,
		HTML:     html,
		Text:     strings.TrimSpace(text),
		Links:    absoluteLinks(hrefs, finalURL),
	}, nil
}

func extractText(html, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return ""
	}
	return article.TextContent
}

func absoluteLinks(hrefs []string, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return hrefs
	}
	seen := make(map[string]struct{}, len(hrefs))
	var out []string
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := baseURL.ResolveReference(ref).String()
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

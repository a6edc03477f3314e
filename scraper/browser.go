package scraper

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// BrowserFetcher renders pages in headless Chromium for providers whose
// listings are built client-side. The browser starts on first use.
type BrowserFetcher struct {
	mu        sync.Mutex
	pw        *playwright.Playwright
	browser   playwright.Browser
	userAgent string
	timeoutMS float64
}

func NewBrowserFetcher(userAgent string) *BrowserFetcher {
	return &BrowserFetcher{userAgent: userAgent, timeoutMS: 60000}
}

func (b *BrowserFetcher) start() error {
	if b.browser != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("could not start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("could not launch browser: %w", err)
	}

	b.pw = pw
	b.browser = browser
	return nil
}

func (b *BrowserFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.start(); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	page, err := b.browser.NewPage(playwright.BrowserNewPageOptions{
		UserAgent: playwright.String(b.userAgent),
	})
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer page.Close()

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(b.timeoutMS),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if resp != nil && (resp.Status() < 200 || resp.Status() >= 300) {
		return nil, &FetchError{URL: url, StatusCode: resp.Status()}
	}

	html, err := page.Content()
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	return []byte(html), nil
}

func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			log.Printf("Warning: failed to close browser: %v", err)
		}
		b.browser = nil
	}
	if b.pw != nil {
		b.pw.Stop()
		b.pw = nil
	}
}

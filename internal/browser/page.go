package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-scraper/internal/extract"
	"github.com/playwright-community/playwright-go"
)

// Page is a live browser tab satisfying extract.Session.
type Page struct {
	page   playwright.Page
	opts   *Options
	logger *slog.Logger
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	retries := p.opts.NavigateRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			p.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}

		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(p.opts.Timeout.Milliseconds())),
		})
		if err == nil {
			return nil
		}

		lastErr = err
		p.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d retries: %w", retries, lastErr)
}

// WaitForText blocks until marker shows up in the body or timeout passes.
// Once it does, the page is scrolled and given time to lazy-load the rest of
// the listing.
func (p *Page) WaitForText(ctx context.Context, marker string, timeout time.Duration) bool {
	body := p.page.Locator("body", playwright.PageLocatorOptions{HasText: marker})
	err := body.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		p.logger.Warn("content not ready", "marker", marker, "timeout", timeout, "error", err)
		return false
	}

	if p.opts.ScrollY > 0 {
		if _, err := p.page.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", p.opts.ScrollY)); err != nil {
			p.logger.Warn("failed to scroll", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.opts.SettleDelay):
	}
	return true
}

func (p *Page) FindAll(q extract.Query) ([]extract.Element, error) {
	var loc playwright.Locator
	if q.HasText != "" {
		loc = p.page.Locator(q.CSS, playwright.PageLocatorOptions{HasText: q.HasText})
	} else {
		loc = p.page.Locator(q.CSS)
	}

	all, err := loc.All()
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", q.CSS, err)
	}

	elements := make([]extract.Element, 0, len(all))
	for _, l := range all {
		elements = append(elements, element{loc: l})
	}
	return elements, nil
}

func (p *Page) CurrentURL() string {
	return p.page.URL()
}

func (p *Page) Close() error {
	return p.page.Close()
}

type element struct {
	loc playwright.Locator
}

// Attribute reports a missing and an empty attribute the same way; the
// driver does not distinguish them.
func (e element) Attribute(name string) (string, bool, error) {
	value, err := e.loc.GetAttribute(name)
	if err != nil {
		return "", false, err
	}
	return value, value != "", nil
}

func (e element) Text() (string, error) {
	return e.loc.InnerText()
}

func (e element) Find(q extract.Query) (extract.Element, error) {
	var sub playwright.Locator
	if q.HasText != "" {
		sub = e.loc.Locator(q.CSS, playwright.LocatorLocatorOptions{HasText: q.HasText})
	} else {
		sub = e.loc.Locator(q.CSS)
	}
	sub = sub.First()

	count, err := sub.Count()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, extract.ErrNoElement
	}
	return element{loc: sub}, nil
}

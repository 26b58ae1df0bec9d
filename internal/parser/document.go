package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-scraper/internal/extract"
)

var ErrNoFetcher = errors.New("document has no fetcher")

// Page is a fetched HTML response.
type Page struct {
	URL  string
	Body []byte
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Document is an extract.Session over a static HTML snapshot. It does not run
// scripts, so it only sees what the server rendered.
type Document struct {
	fetcher Fetcher
	url     string
	doc     *goquery.Document
	logger  *slog.Logger
}

func NewDocument(fetcher Fetcher, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{
		fetcher: fetcher,
		logger:  logger.With("component", "document"),
	}
}

// FromHTML builds a Document from markup already in hand, as if it had been
// served from pageURL.
func FromHTML(pageURL, html string) (*Document, error) {
	d := NewDocument(nil, nil)
	if err := d.Load(pageURL, strings.NewReader(html)); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) Load(pageURL string, r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}
	d.doc = doc
	d.url = pageURL
	return nil
}

func (d *Document) Navigate(ctx context.Context, url string) error {
	if d.fetcher == nil {
		return ErrNoFetcher
	}

	page, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	d.logger.Debug("page fetched", "url", page.URL, "bytes", len(page.Body))
	return d.Load(page.URL, bytes.NewReader(page.Body))
}

// WaitForText reports whether marker is already in the body text. A snapshot
// never changes, so there is nothing to wait for.
func (d *Document) WaitForText(ctx context.Context, marker string, timeout time.Duration) bool {
	if d.doc == nil || ctx.Err() != nil {
		return false
	}
	return strings.Contains(visibleText(d.doc.Find("body")), marker)
}

func (d *Document) FindAll(q extract.Query) ([]extract.Element, error) {
	if d.doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	return wrap(match(d.doc.Selection, q)), nil
}

func (d *Document) CurrentURL() string {
	return d.url
}

// Close drops the loaded page.
func (d *Document) Close() error {
	d.doc = nil
	return nil
}

type node struct {
	sel *goquery.Selection
}

func (n node) Attribute(name string) (string, bool, error) {
	value, ok := n.sel.Attr(name)
	return value, ok, nil
}

func (n node) Text() (string, error) {
	return visibleText(n.sel), nil
}

func (n node) Find(q extract.Query) (extract.Element, error) {
	found := match(n.sel, q).First()
	if found.Length() == 0 {
		return nil, extract.ErrNoElement
	}
	return node{sel: found}, nil
}

func match(root *goquery.Selection, q extract.Query) *goquery.Selection {
	sel := root.Find(q.CSS)
	if q.HasText == "" {
		return sel
	}
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(visibleText(s), q.HasText)
	})
}

func wrap(sel *goquery.Selection) []extract.Element {
	elements := make([]extract.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, node{sel: s})
	})
	return elements
}

// visibleText approximates rendered text: script and style contents are
// dropped and whitespace runs, no-break spaces included, collapse to one space.
func visibleText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(clone.Text()), " ")
}

package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maltedev/price-scraper/internal/models"
)

// Skip reasons reported by FieldExtractor.
const (
	SkipNoPrice  = "no-price"
	SkipCardText = "card-text"
)

// minImageNameLength guards against decorative alt text like "foto".
const minImageNameLength = 5

// Result is the outcome of extracting one card: either a record or a skip.
type Result struct {
	Record  models.RawProduct
	Skipped bool
	Reason  string
	Err     error
}

func skip(reason string, err error) Result {
	return Result{Skipped: true, Reason: reason, Err: err}
}

// NameStrategy reads a product name from a card. ok is false when the
// strategy has nothing to offer and the next one should be tried.
type NameStrategy struct {
	Name    string
	Resolve func(card Element) (name string, ok bool)
}

func DefaultNameStrategies() []NameStrategy {
	return []NameStrategy{
		{Name: "image-title", Resolve: nameFromImage},
		{Name: "name-element", Resolve: nameFromElement},
	}
}

func nameFromImage(card Element) (string, bool) {
	img, err := card.Find(Query{CSS: "img"})
	if err != nil {
		return "", false
	}

	for _, attr := range []string{"title", "alt"} {
		value, ok, err := img.Attribute(attr)
		if err != nil {
			return "", false
		}
		if !ok || value == "" {
			continue
		}
		// title wins over alt even when it is too short or blank; length is
		// judged on the raw attribute
		if utf8.RuneCountInString(value) <= minImageNameLength {
			return "", false
		}
		value = strings.TrimSpace(value)
		return value, value != ""
	}

	return "", false
}

func nameFromElement(card Element) (string, bool) {
	el, err := card.Find(Query{CSS: "span[class*='name'], h2"})
	if err != nil {
		return "", false
	}
	text, err := el.Text()
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

type FieldExtractor struct {
	names  []NameStrategy
	now    func() time.Time
	logger *slog.Logger
}

type FieldOption func(*FieldExtractor)

func WithClock(now func() time.Time) FieldOption {
	return func(x *FieldExtractor) { x.now = now }
}

func WithNameStrategies(names []NameStrategy) FieldOption {
	return func(x *FieldExtractor) { x.names = names }
}

func NewFieldExtractor(logger *slog.Logger, opts ...FieldOption) *FieldExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	x := &FieldExtractor{
		names:  DefaultNameStrategies(),
		now:    time.Now,
		logger: logger.With("component", "field_extractor"),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract resolves name, price and link for one card. A card without a
// discoverable price is skipped whatever its name or link look like.
func (x *FieldExtractor) Extract(s Session, card Element) Result {
	name := x.resolveName(card)

	text, err := card.Text()
	if err != nil {
		return skip(SkipCardText, fmt.Errorf("failed to read card text: %w", err))
	}

	priceText, ok := FindPrice(text)
	if !ok {
		return skip(SkipNoPrice, nil)
	}

	link := x.resolveLink(s, card)

	return Result{
		Record: models.NewRawProduct(name, priceText, NormalizePrice(priceText), link, x.now()),
	}
}

func (x *FieldExtractor) resolveName(card Element) string {
	for _, strategy := range x.names {
		if name, ok := strategy.Resolve(card); ok {
			return name
		}
	}
	return models.UnknownName
}

// resolveLink returns the first anchor's href made absolute against the page
// URL, or the page URL itself when the card has no usable anchor.
func (x *FieldExtractor) resolveLink(s Session, card Element) string {
	pageURL := s.CurrentURL()

	a, err := card.Find(Query{CSS: "a"})
	if err != nil {
		if !errors.Is(err, ErrNoElement) {
			x.logger.Debug("anchor lookup failed", "error", err)
		}
		return pageURL
	}

	href, ok, err := a.Attribute("href")
	href = strings.TrimSpace(href)
	if err != nil || !ok || href == "" {
		return pageURL
	}

	return resolveURL(pageURL, href)
}

func resolveURL(base, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return href
	}
	return b.ResolveReference(ref).String()
}

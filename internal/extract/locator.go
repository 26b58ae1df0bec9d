package extract

import (
	"log/slog"
)

// CardStrategy is one named way of finding product cards on a page.
type CardStrategy struct {
	Name  string
	Query Query
}

// DefaultCardStrategies tries semantic <article> tags first. Class names on
// the listing are unstable, so the fallback pairs a loose class match with the
// presence of a price in the element's text.
func DefaultCardStrategies() []CardStrategy {
	return []CardStrategy{
		{Name: "article", Query: Query{CSS: "article"}},
		{Name: "currency-card", Query: Query{CSS: "div[class*='Card']", HasText: "R$"}},
	}
}

type CardLocator struct {
	strategies []CardStrategy
	logger     *slog.Logger
}

func NewCardLocator(strategies []CardStrategy, logger *slog.Logger) *CardLocator {
	if len(strategies) == 0 {
		strategies = DefaultCardStrategies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CardLocator{
		strategies: strategies,
		logger:     logger.With("component", "card_locator"),
	}
}

// Locate returns the cards found by the first strategy that yields any, along
// with that strategy's name. No cards at all is an empty result, not an error.
func (l *CardLocator) Locate(s Session) ([]Element, string) {
	for _, strategy := range l.strategies {
		cards, err := s.FindAll(strategy.Query)
		if err != nil {
			l.logger.Warn("card strategy failed", "strategy", strategy.Name, "error", err)
			continue
		}

		l.logger.Info("cards located", "strategy", strategy.Name, "count", len(cards))
		if len(cards) > 0 {
			return cards, strategy.Name
		}
	}

	return nil, ""
}

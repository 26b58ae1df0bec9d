package extract

import (
	"log/slog"

	"github.com/maltedev/price-scraper/internal/models"
)

// DefaultMaxCards bounds how many candidates a single run inspects.
const DefaultMaxCards = 16

// Stats describes one pipeline run.
type Stats struct {
	Strategy  string         `json:"strategy"`
	Located   int            `json:"located"`
	Inspected int            `json:"inspected"`
	Extracted int            `json:"extracted"`
	Skipped   map[string]int `json:"skipped"`
}

// Observer receives per-run counters. metrics.Collector satisfies it.
type Observer interface {
	CardsLocated(strategy string, n int)
	CardSkipped(reason string)
	RecordExtracted()
}

type Pipeline struct {
	locator   *CardLocator
	extractor *FieldExtractor
	maxCards  int
	observer  Observer
	logger    *slog.Logger
}

func NewPipeline(locator *CardLocator, extractor *FieldExtractor, maxCards int, logger *slog.Logger) *Pipeline {
	if maxCards <= 0 {
		maxCards = DefaultMaxCards
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		locator:   locator,
		extractor: extractor,
		maxCards:  maxCards,
		logger:    logger.With("component", "extraction_pipeline"),
	}
}

func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// Run extracts records from the cards on the current page, in page order.
// Cards past the cap are ignored and skipped cards never fail the run.
func (p *Pipeline) Run(s Session) ([]models.RawProduct, Stats) {
	cards, strategy := p.locator.Locate(s)
	stats := Stats{
		Strategy: strategy,
		Located:  len(cards),
		Skipped:  make(map[string]int),
	}
	if p.observer != nil {
		p.observer.CardsLocated(strategy, len(cards))
	}

	if len(cards) > p.maxCards {
		cards = cards[:p.maxCards]
	}

	records := make([]models.RawProduct, 0, len(cards))
	for i, card := range cards {
		stats.Inspected++

		res := p.extractor.Extract(s, card)
		if res.Skipped {
			stats.Skipped[res.Reason]++
			if p.observer != nil {
				p.observer.CardSkipped(res.Reason)
			}
			p.logger.Debug("card skipped", "index", i, "reason", res.Reason, "error", res.Err)
			continue
		}

		records = append(records, res.Record)
		stats.Extracted++
		if p.observer != nil {
			p.observer.RecordExtracted()
		}
	}

	p.logger.Info("extraction finished",
		"strategy", strategy,
		"located", stats.Located,
		"inspected", stats.Inspected,
		"extracted", stats.Extracted,
	)

	return records, stats
}

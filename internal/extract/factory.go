package extract

import (
	"github.com/kbforge/ingestd/internal/config"
)

// DefaultChain builds the standard strategy order:
// structured-document converter, web-crawl converter, local PDF text
// extraction, then the generic plain-text reader.
func DefaultChain(cfg config.ExtractionConfig) *Chain {
	var strategies []Extractor
	if cfg.APIBaseURL != "" {
		strategies = append(strategies,
			NewMarkdownAPIExtractor(cfg.APIBaseURL, cfg.RequestTimeout),
			NewCrawlAPIExtractor(cfg.APIBaseURL, cfg.RequestTimeout, cfg.CrawlRetries, cfg.CrawlBackoff),
		)
	}
	strategies = append(strategies,
		NewPDFExtractor(),
		NewTextExtractor(),
	)
	return NewChain(strategies...)
}

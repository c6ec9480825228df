// Package extract provides the multi-strategy extraction chain.
//
// A Chain tries a fixed, ordered list of extractor strategies until one
// produces valid, non-blank text. Order is significant; there is no scoring
// or voting between strategies, the first success wins.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	ierrors "github.com/kbforge/ingestd/internal/errors"
)

// Source references the document to extract.
type Source struct {
	// Raw is the original reference: a local file path or a URL.
	Raw string

	// LocalPath is a readable local copy of Raw. For local sources it
	// equals Raw; for remote sources it points at a temporary download.
	LocalPath string
}

// IsRemote reports whether the original reference is a URL.
func (s Source) IsRemote() bool {
	return isRemote(s.Raw)
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Ext returns the lowercased file extension of the reference, without dot.
func (s Source) Ext() string {
	ref := s.Raw
	if i := strings.LastIndex(ref, "?"); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.LastIndex(ref, "."); i >= 0 && i < len(ref)-1 {
		return strings.ToLower(ref[i+1:])
	}
	return ""
}

// Extractor converts a source into normalized text.
// An extractor returns an error when it cannot handle the source; the chain
// treats that as a signal to try the next strategy.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, src Source) (string, error)
}

// Chain is an ordered list of extractor strategies with fallback.
type Chain struct {
	strategies []Extractor
	client     *http.Client
}

// NewChain creates a chain over the given strategies, tried in order.
func NewChain(strategies ...Extractor) *Chain {
	return &Chain{
		strategies: strategies,
		client:     http.DefaultClient,
	}
}

// Extract resolves the source and runs the strategy list.
// Any temporary local copy made for a remote source is removed on every
// exit path. If all strategies fail, the returned error wraps the last
// underlying failure and matches errors.ErrExtractionExhausted.
func (c *Chain) Extract(ctx context.Context, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", ierrors.New(ierrors.ErrCodeSourceUnreadable, "empty source reference", nil)
	}

	src, cleanup, err := c.localize(ctx, source)
	if err != nil {
		return "", err
	}
	defer cleanup()

	var lastErr error
	for _, strategy := range c.strategies {
		text, err := strategy.Extract(ctx, src)
		if err == nil && strings.TrimSpace(text) != "" {
			slog.Debug("extraction succeeded",
				slog.String("strategy", strategy.Name()),
				slog.String("source", source))
			return text, nil
		}

		if err == nil {
			err = fmt.Errorf("%s produced blank output", strategy.Name())
		}
		lastErr = err
		slog.Warn("extractor failed, trying next strategy",
			slog.String("strategy", strategy.Name()),
			slog.String("source", source),
			slog.String("error", err.Error()))
	}

	return "", ierrors.ExtractionExhausted(lastErr)
}

// localize makes the source readable locally. Remote sources are downloaded
// to a temp file; the returned cleanup removes it. Local sources are checked
// for readability and cleanup is a no-op.
func (c *Chain) localize(ctx context.Context, source string) (Source, func(), error) {
	noop := func() {}

	if !isRemote(source) {
		if _, err := os.Stat(source); err != nil {
			return Source{}, noop, ierrors.New(ierrors.ErrCodeSourceUnreadable,
				fmt.Sprintf("source %s is not readable", source), err)
		}
		return Source{Raw: source, LocalPath: source}, noop, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return Source{}, noop, ierrors.New(ierrors.ErrCodeSourceUnreadable, "invalid source URL", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Source{}, noop, ierrors.New(ierrors.ErrCodeSourceUnreadable,
			fmt.Sprintf("failed to fetch %s", source), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Source{}, noop, ierrors.New(ierrors.ErrCodeSourceUnreadable,
			fmt.Sprintf("fetching %s returned status %d", source, resp.StatusCode), nil)
	}

	tmp, err := os.CreateTemp("", "ingestd-src-*")
	if err != nil {
		return Source{}, noop, fmt.Errorf("failed to create temp file: %w", err)
	}

	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		cleanup()
		return Source{}, noop, fmt.Errorf("failed to download %s: %w", source, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return Source{}, noop, fmt.Errorf("failed to close temp file: %w", err)
	}

	return Source{Raw: source, LocalPath: tmp.Name()}, cleanup, nil
}

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Wire types for the extraction service endpoints.
type pdfExtractRequest struct {
	FilePath        string `json:"file_path"`
	ImageExportMode string `json:"image_export_mode"`
	TableMode       string `json:"table_mode"`
}

type pdfExtractResponse struct {
	Document struct {
		MDContent string `json:"md_content"`
	} `json:"document"`
}

type urlExtractRequest struct {
	URLs []string `json:"urls"`
}

type urlExtractResponse struct {
	Documents []struct {
		Source    string `json:"source"`
		MDContent string `json:"md_content"`
	} `json:"documents"`
}

// MarkdownAPIExtractor converts structured documents to markdown through
// the extraction service's /pdf-extractor endpoint.
type MarkdownAPIExtractor struct {
	baseURL string
	client  *http.Client
}

var _ Extractor = (*MarkdownAPIExtractor)(nil)

// NewMarkdownAPIExtractor creates the structured-document converter strategy.
func NewMarkdownAPIExtractor(baseURL string, timeout time.Duration) *MarkdownAPIExtractor {
	return &MarkdownAPIExtractor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *MarkdownAPIExtractor) Name() string { return "markdown-api" }

func (e *MarkdownAPIExtractor) Extract(ctx context.Context, src Source) (string, error) {
	if e.baseURL == "" {
		return "", fmt.Errorf("markdown-api: no extraction service configured")
	}

	payload := pdfExtractRequest{
		FilePath:        src.LocalPath,
		ImageExportMode: "placeholder",
		TableMode:       "accurate",
	}

	var result pdfExtractResponse
	if err := postJSON(ctx, e.client, e.baseURL+"/pdf-extractor", payload, &result); err != nil {
		return "", fmt.Errorf("markdown-api: %w", err)
	}

	return result.Document.MDContent, nil
}

// CrawlAPIExtractor converts URLs to markdown through the extraction
// service's /url-extractor endpoint. A local .txt source is treated as a
// list of URLs, one per line.
//
// Transient call failures are retried up to a small fixed count with fixed
// backoff before the strategy counts as failed for fallback purposes.
type CrawlAPIExtractor struct {
	baseURL string
	client  *http.Client
	retries int
	backoff time.Duration
}

var _ Extractor = (*CrawlAPIExtractor)(nil)

// NewCrawlAPIExtractor creates the web-crawl converter strategy.
func NewCrawlAPIExtractor(baseURL string, timeout time.Duration, retries int, backoff time.Duration) *CrawlAPIExtractor {
	if retries < 1 {
		retries = 1
	}
	return &CrawlAPIExtractor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		retries: retries,
		backoff: backoff,
	}
}

func (e *CrawlAPIExtractor) Name() string { return "crawl-api" }

func (e *CrawlAPIExtractor) Extract(ctx context.Context, src Source) (string, error) {
	if e.baseURL == "" {
		return "", fmt.Errorf("crawl-api: no extraction service configured")
	}

	urls, err := e.resolveURLs(src)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", fmt.Errorf("crawl-api: source %s lists no URLs", src.Raw)
	}

	var result urlExtractResponse
	var lastErr error
	for attempt := 0; attempt < e.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.backoff):
			}
		}

		lastErr = postJSON(ctx, e.client, e.baseURL+"/url-extractor", urlExtractRequest{URLs: urls}, &result)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("crawl-api: %w", lastErr)
	}

	parts := make([]string, 0, len(result.Documents))
	for _, doc := range result.Documents {
		if strings.TrimSpace(doc.MDContent) != "" {
			parts = append(parts, doc.MDContent)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// resolveURLs maps the source to the URL list to crawl.
func (e *CrawlAPIExtractor) resolveURLs(src Source) ([]string, error) {
	if src.IsRemote() {
		return []string{src.Raw}, nil
	}

	if src.Ext() != "txt" {
		return nil, fmt.Errorf("crawl-api: %s is not a URL or URL list", src.Raw)
	}

	data, err := os.ReadFile(src.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("crawl-api: %w", err)
	}

	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && isRemote(line) {
			urls = append(urls, line)
		}
	}
	return urls, nil
}

// postJSON issues a JSON POST and decodes the JSON response into out.
func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts plain text from local PDF files without calling an
// external service. Used as the OCR-free fallback behind the API strategy.
type PDFExtractor struct{}

var _ Extractor = (*PDFExtractor)(nil)

// NewPDFExtractor creates the local PDF text extraction strategy.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

func (e *PDFExtractor) Name() string { return "pdf-local" }

func (e *PDFExtractor) Extract(ctx context.Context, src Source) (string, error) {
	if src.Ext() != "pdf" {
		return "", fmt.Errorf("pdf-local: %s is not a PDF", src.Raw)
	}

	data, err := os.ReadFile(src.LocalPath)
	if err != nil {
		return "", fmt.Errorf("pdf-local: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf-local: failed to parse %s: %w", src.Raw, err)
	}

	text, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf-local: failed to extract text: %w", err)
	}

	out, err := io.ReadAll(text)
	if err != nil {
		return "", fmt.Errorf("pdf-local: %w", err)
	}
	return string(out), nil
}

// textExtensions are extensions the plain-text strategy accepts directly.
var textExtensions = map[string]struct{}{
	"txt": {}, "md": {}, "markdown": {}, "rst": {},
	"csv": {}, "json": {}, "yaml": {}, "yml": {}, "xml": {}, "html": {}, "htm": {},
	"go": {}, "py": {}, "js": {}, "ts": {}, "java": {}, "c": {}, "cpp": {}, "h": {},
	"rb": {}, "rs": {}, "sh": {}, "sql": {}, "log": {}, "ini": {}, "conf": {},
}

// TextExtractor reads local plain-text and markup files verbatim.
// It is the generic converter at the end of the chain.
type TextExtractor struct{}

var _ Extractor = (*TextExtractor)(nil)

// NewTextExtractor creates the plain-text reader strategy.
func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

func (e *TextExtractor) Name() string { return "text-local" }

func (e *TextExtractor) Extract(ctx context.Context, src Source) (string, error) {
	if ext := src.Ext(); ext != "" {
		if _, ok := textExtensions[ext]; !ok {
			return "", fmt.Errorf("text-local: unsupported extension %q", ext)
		}
	}

	data, err := os.ReadFile(src.LocalPath)
	if err != nil {
		return "", fmt.Errorf("text-local: %w", err)
	}

	if !bytes.HasPrefix(data, []byte("%PDF")) && bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("text-local: %s looks binary", src.Raw)
	}
	return string(data), nil
}

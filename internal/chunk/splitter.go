// Package chunk splits normalized text into bounded, overlapping chunks.
//
// Two splitter families share one interface: character-bounded windows
// over runes, and token-bounded windows over whitespace-delimited words.
// Both record the starting offset of every chunk within its source text.
package chunk

import (
	"fmt"

	"github.com/kbforge/ingestd/internal/config"
	"github.com/kbforge/ingestd/internal/document"
	ierrors "github.com/kbforge/ingestd/internal/errors"
)

// Splitter turns documents into smaller documents, preserving and
// extending metadata.
type Splitter interface {
	SplitDocuments(docs []document.Document) []document.Document
}

// NewSplitter builds a splitter for the given family and granularity.
func NewSplitter(family string, size, overlap int) (Splitter, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ierrors.InvalidSplitter(
			fmt.Sprintf("chunk_size=%d chunk_overlap=%d: overlap must be in [0, chunk_size)", size, overlap))
	}
	switch family {
	case "", config.SplitterCharacter:
		return &CharacterSplitter{ChunkSize: size, ChunkOverlap: overlap}, nil
	case config.SplitterToken:
		return &TokenSplitter{ChunkSize: size, ChunkOverlap: overlap}, nil
	default:
		return nil, ierrors.InvalidSplitter(fmt.Sprintf("unknown splitter family %q", family))
	}
}

// CharacterSplitter emits rune windows of at most ChunkSize runes.
// Consecutive chunks overlap by exactly ChunkOverlap runes except at
// the document boundaries.
type CharacterSplitter struct {
	ChunkSize    int
	ChunkOverlap int
}

func (s *CharacterSplitter) SplitDocuments(docs []document.Document) []document.Document {
	var out []document.Document
	for _, doc := range docs {
		out = append(out, s.splitOne(doc)...)
	}
	return out
}

func (s *CharacterSplitter) splitOne(doc document.Document) []document.Document {
	runes := []rune(doc.Content)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.ChunkSize {
		return []document.Document{chunkOf(doc, doc.Content, 0)}
	}

	step := s.ChunkSize - s.ChunkOverlap
	var chunks []document.Document
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, chunkOf(doc, string(runes[start:end]), start))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// TokenSplitter emits windows of at most ChunkSize whitespace-delimited
// tokens, overlapping by ChunkOverlap tokens. Chunk text is sliced from
// the original content so inner whitespace survives.
type TokenSplitter struct {
	ChunkSize    int
	ChunkOverlap int
}

func (s *TokenSplitter) SplitDocuments(docs []document.Document) []document.Document {
	var out []document.Document
	for _, doc := range docs {
		out = append(out, s.splitOne(doc)...)
	}
	return out
}

// tokenSpan is a token's rune-offset range within its source text.
type tokenSpan struct {
	start, end int
}

func (s *TokenSplitter) splitOne(doc document.Document) []document.Document {
	runes := []rune(doc.Content)
	spans := tokenize(runes)
	if len(spans) == 0 {
		return nil
	}
	if len(spans) <= s.ChunkSize {
		first := spans[0]
		last := spans[len(spans)-1]
		return []document.Document{chunkOf(doc, string(runes[first.start:last.end]), first.start)}
	}

	step := s.ChunkSize - s.ChunkOverlap
	var chunks []document.Document
	for start := 0; start < len(spans); start += step {
		end := start + s.ChunkSize
		if end > len(spans) {
			end = len(spans)
		}
		text := string(runes[spans[start].start:spans[end-1].end])
		chunks = append(chunks, chunkOf(doc, text, spans[start].start))
		if end == len(spans) {
			break
		}
	}
	return chunks
}

func tokenize(runes []rune) []tokenSpan {
	var spans []tokenSpan
	inToken := false
	start := 0
	for i, r := range runes {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		switch {
		case !inToken && !isSpace:
			inToken = true
			start = i
		case inToken && isSpace:
			inToken = false
			spans = append(spans, tokenSpan{start: start, end: i})
		}
	}
	if inToken {
		spans = append(spans, tokenSpan{start: start, end: len(runes)})
	}
	return spans
}

func chunkOf(doc document.Document, text string, startIndex int) document.Document {
	meta := document.CloneMetadata(doc.Metadata)
	meta[document.MetaStartIndex] = startIndex
	return document.Document{Content: text, Metadata: meta}
}

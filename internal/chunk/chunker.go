package chunk

import (
	"github.com/google/uuid"

	"github.com/kbforge/ingestd/internal/config"
	"github.com/kbforge/ingestd/internal/document"
	ierrors "github.com/kbforge/ingestd/internal/errors"
)

// Chunker applies the configured splitting policy to extracted
// documents, including the optional two-level parent/child pass.
type Chunker struct {
	cfg      config.ChunkingConfig
	splitter Splitter
	parent   Splitter
}

// New builds a Chunker from the chunking configuration.
func New(cfg config.ChunkingConfig) (*Chunker, error) {
	splitter, err := NewSplitter(cfg.Splitter, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	c := &Chunker{cfg: cfg, splitter: splitter}
	if cfg.ParentChild {
		// Parent chunks do not overlap; they exist to give children a
		// larger context window, not to be retrieved directly.
		c.parent, err = NewSplitter(cfg.Splitter, cfg.ParentChunkSize, 0)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Split chunks the documents. A result of zero chunks is a hard error:
// ingestion must never silently insert nothing.
func (c *Chunker) Split(docs []document.Document) ([]document.Document, error) {
	var chunks []document.Document
	if c.parent != nil {
		chunks = c.splitParentChild(docs)
	} else {
		chunks = c.splitter.SplitDocuments(docs)
	}
	if len(chunks) == 0 {
		return nil, ierrors.EmptyContent()
	}
	return chunks, nil
}

// splitParentChild runs the two-phase split: coarse parent chunks get a
// fresh uuid each, then every parent is re-split at child granularity
// and each child is stamped with its parent's id and text.
func (c *Chunker) splitParentChild(docs []document.Document) []document.Document {
	parents := c.parent.SplitDocuments(docs)

	var children []document.Document
	for _, parent := range parents {
		parentID := uuid.NewString()
		for _, child := range c.splitter.SplitDocuments([]document.Document{parent}) {
			child.Metadata[document.MetaParentID] = parentID
			child.Metadata[document.MetaContextContent] = parent.Content
			children = append(children, child)
		}
	}
	return children
}

// Shape produces the final per-chunk metadata for storage: document
// metadata merged with caller metadata (caller wins), an
// embedding_config record, and scalar-only values. The transient
// context_content marker is dropped here.
func Shape(chunks []document.Document, callerMeta map[string]any, engine, model string) []document.Document {
	embCfg := document.EmbeddingConfigJSON(engine, model)

	shaped := make([]document.Document, len(chunks))
	for i, chunk := range chunks {
		meta := document.MergeMetadata(chunk.Metadata, callerMeta)
		delete(meta, document.MetaContextContent)
		meta[document.MetaEmbeddingConfig] = embCfg
		document.StringifyMetadata(meta)
		shaped[i] = document.Document{Content: chunk.Content, Metadata: meta}
	}
	return shaped
}

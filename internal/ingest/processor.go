// Package ingest orchestrates the document ingestion pipeline: source
// resolution, extraction, chunking, embedding and vector store insert,
// with job status persisted at every transition.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kbforge/ingestd/internal/chunk"
	"github.com/kbforge/ingestd/internal/document"
	"github.com/kbforge/ingestd/internal/embed"
	ierrors "github.com/kbforge/ingestd/internal/errors"
	"github.com/kbforge/ingestd/internal/jobstore"
	"github.com/kbforge/ingestd/internal/storage"
	"github.com/kbforge/ingestd/internal/vecstore"
)

// Extractor converts a local source path or URL into text.
// *extract.Chain satisfies this.
type Extractor interface {
	Extract(ctx context.Context, source string) (string, error)
}

// Processor runs a single ingestion job end to end.
type Processor struct {
	jobs      *jobstore.Store
	engine    *vecstore.Engine
	chunker   *chunk.Chunker
	embedder  embed.Embedder
	storage   storage.Store
	extractor Extractor
	hybrid    bool
}

// NewProcessor wires a processor from its collaborators. The hybrid
// flag controls whether inserted collections carry sparse vectors.
func NewProcessor(
	jobs *jobstore.Store,
	engine *vecstore.Engine,
	chunker *chunk.Chunker,
	embedder embed.Embedder,
	store storage.Store,
	extractor Extractor,
	hybrid bool,
) *Processor {
	return &Processor{
		jobs:      jobs,
		engine:    engine,
		chunker:   chunker,
		embedder:  embedder,
		storage:   store,
		extractor: extractor,
		hybrid:    hybrid,
	}
}

// fileCollection is the per-file collection a job is first indexed into
// when no shared collection name is supplied.
func fileCollection(jobID string) string {
	return "file-" + jobID
}

// Process runs one job. collectionName selects a shared destination
// collection; empty means the job's own per-file collection. The job
// record ends in status completed or failed, and any failure is
// returned to the caller for queue-level retry.
func (p *Processor) Process(ctx context.Context, jobID, collectionName string) error {
	job, err := p.jobs.Get(jobID)
	if err != nil {
		// A missing record cannot succeed on redelivery.
		slog.Error("job not found", slog.String("job_id", jobID))
		return nil
	}

	collection := collectionName
	if collection == "" {
		collection = fileCollection(job.ID)
	}

	err = p.process(ctx, job, collection, collectionName != "")
	if err != nil {
		if uerr := p.jobs.UpdateStatus(job.ID, jobstore.StatusFailed, err.Error()); uerr != nil {
			slog.Error("failed to persist job failure",
				slog.String("job_id", job.ID),
				slog.String("error", uerr.Error()))
		}
		return err
	}

	if err := p.jobs.UpdateCollection(job.ID, collection); err != nil {
		return err
	}
	return p.jobs.UpdateStatus(job.ID, jobstore.StatusCompleted, "")
}

func (p *Processor) process(ctx context.Context, job *jobstore.Job, collection string, promote bool) error {
	var (
		docs        []document.Document
		textContent string
		migrateFrom string
	)

	if promote {
		// The job may already be indexed in its per-file collection;
		// reuse the stored points instead of re-extracting.
		source := fileCollection(job.ID)
		result := p.engine.Query(ctx, source, map[string]any{document.MetaFileID: job.ID}, 0)
		if !result.Empty() {
			migrateFrom = source
		} else {
			docs = []document.Document{p.jobDocument(job, job.Content)}
		}
		textContent = job.Content
	} else {
		if err := p.jobs.UpdateStatus(job.ID, jobstore.StatusExtracting, ""); err != nil {
			return err
		}
		if job.Path != "" {
			local, err := p.storage.GetFile(ctx, job.Path)
			if err != nil {
				return fmt.Errorf("resolve source %s: %w", job.Path, err)
			}
			content, err := p.extractor.Extract(ctx, local)
			if err != nil {
				return err
			}
			docs = []document.Document{p.jobDocument(job, content)}
		} else {
			docs = []document.Document{p.jobDocument(job, job.Content)}
		}
		parts := make([]string, len(docs))
		for i, doc := range docs {
			parts[i] = doc.Content
		}
		textContent = strings.Join(parts, " ")
	}

	// Content and hash are persisted even when indexing later fails,
	// so a redelivered job can skip extraction.
	if err := p.jobs.UpdateContent(job.ID, textContent); err != nil {
		return err
	}
	hash := hashString(textContent)
	if err := p.jobs.UpdateHash(job.ID, hash); err != nil {
		return err
	}

	callerMeta := map[string]any{
		document.MetaFileID: job.ID,
		document.MetaName:   job.Filename,
		document.MetaHash:   hash,
	}

	if err := p.checkDuplicate(ctx, collection, hash); err != nil {
		return err
	}

	if migrateFrom != "" {
		return p.migrate(ctx, job, migrateFrom, collection)
	}
	return p.saveDocs(ctx, job, docs, collection, callerMeta, promote)
}

// jobDocument wraps text into a Document tagged with job identity.
func (p *Processor) jobDocument(job *jobstore.Job, content string) document.Document {
	meta := document.CloneMetadata(job.Meta)
	meta[document.MetaName] = job.Filename
	meta[document.MetaFileID] = job.ID
	meta[document.MetaSource] = job.Filename
	return document.Document{Content: content, Metadata: meta}
}

// checkDuplicate aborts before any chunking or embedding work when the
// destination already holds a point with the same content hash.
func (p *Processor) checkDuplicate(ctx context.Context, collection, hash string) error {
	result := p.engine.Query(ctx, collection, map[string]any{document.MetaHash: hash}, 0)
	if !result.Empty() {
		slog.Info("duplicate content detected",
			slog.String("collection", collection),
			slog.String("hash", hash))
		return ierrors.DuplicateContent(hash)
	}
	return nil
}

// migrate promotes an already-indexed per-file collection into a shared
// collection by bulk-copying its raw points, skipping chunking and
// embedding entirely.
func (p *Processor) migrate(ctx context.Context, job *jobstore.Job, source, dest string) error {
	if err := p.jobs.UpdateStatus(job.ID, jobstore.StatusInserting, ""); err != nil {
		return err
	}
	points, err := p.engine.GetRawData(ctx, source)
	if err != nil {
		return ierrors.VectorStoreError(fmt.Sprintf("dump collection %s", source), err)
	}
	if len(points) == 0 {
		return ierrors.EmptyContent()
	}
	slog.Info("migrating collection",
		slog.String("source", source),
		slog.String("destination", dest),
		slog.Int("points", len(points)))
	if err := p.engine.InsertRawData(ctx, dest, points); err != nil {
		return ierrors.VectorStoreError(fmt.Sprintf("migrate into %s", dest), err)
	}
	return nil
}

// saveDocs chunks, embeds and inserts docs into collection. When add is
// false and the collection already exists the write is skipped: the
// per-file collection was already populated by an earlier delivery.
func (p *Processor) saveDocs(ctx context.Context, job *jobstore.Job, docs []document.Document, collection string, callerMeta map[string]any, add bool) error {
	if err := p.jobs.UpdateStatus(job.ID, jobstore.StatusChunking, ""); err != nil {
		return err
	}
	chunks, err := p.chunker.Split(docs)
	if err != nil {
		return err
	}
	shaped := chunk.Shape(chunks, callerMeta, p.embedder.Engine(), p.embedder.Model())

	if !add && p.engine.HasCollection(collection) {
		slog.Info("collection already populated, skipping insert",
			slog.String("collection", collection))
		return nil
	}

	if err := p.jobs.UpdateStatus(job.ID, jobstore.StatusEmbedding, ""); err != nil {
		return err
	}
	texts := make([]string, len(shaped))
	for i, doc := range shaped {
		// Embedding models score cleaner on single-line input; the
		// stored text keeps its original newlines.
		texts[i] = strings.ReplaceAll(doc.Content, "\n", " ")
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(shaped) {
		return ierrors.EmbeddingFailed(
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(shaped)), nil)
	}

	if err := p.jobs.UpdateStatus(job.ID, jobstore.StatusInserting, ""); err != nil {
		return err
	}
	items := make([]vecstore.VectorItem, len(shaped))
	for i, doc := range shaped {
		items[i] = vecstore.VectorItem{
			ID:       uuid.NewString(),
			Text:     doc.Content,
			Vector:   vectors[i],
			Metadata: doc.Metadata,
		}
	}
	if err := p.engine.Insert(ctx, collection, items, p.hybrid); err != nil {
		return ierrors.VectorStoreError(fmt.Sprintf("insert into %s", collection), err)
	}
	slog.Info("documents indexed",
		slog.String("job_id", job.ID),
		slog.String("collection", collection),
		slog.Int("chunks", len(items)))
	return nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

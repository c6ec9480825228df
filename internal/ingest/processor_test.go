package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbforge/ingestd/internal/chunk"
	"github.com/kbforge/ingestd/internal/config"
	"github.com/kbforge/ingestd/internal/document"
	"github.com/kbforge/ingestd/internal/embed"
	ierrors "github.com/kbforge/ingestd/internal/errors"
	"github.com/kbforge/ingestd/internal/jobstore"
	"github.com/kbforge/ingestd/internal/storage"
	"github.com/kbforge/ingestd/internal/vecstore"
)

func testEncode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		vec := make([]float32, 4)
		for j := range vec {
			vec[j] = float32(sum[j])/255 + 0.01
		}
		out[i] = vec
	}
	return out, nil
}

type fakeExtractor struct {
	content string
	err     error
	calls   int
}

func (f *fakeExtractor) Extract(ctx context.Context, source string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

type processorFixture struct {
	proc      *Processor
	jobs      *jobstore.Store
	engine    *vecstore.Engine
	extractor *fakeExtractor
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	jobs, err := jobstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { jobs.Close() })

	engine, err := vecstore.NewEngine(
		config.VectorStoreConfig{DataDir: t.TempDir(), InsertBatchSize: 10},
		vecstore.WithSparseEncoder(embed.NewSparseModel().Embed),
	)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	chunker, err := chunk.New(config.ChunkingConfig{
		Splitter:     "character",
		ChunkSize:    1000,
		ChunkOverlap: 100,
	})
	require.NoError(t, err)

	embedder := embed.NewLocalEmbedder("", "test-model", 32, testEncode)

	store, err := storage.New(config.StorageConfig{Provider: "local", UploadDir: t.TempDir()})
	require.NoError(t, err)

	extractor := &fakeExtractor{content: "extracted document body for indexing"}

	return &processorFixture{
		proc:      NewProcessor(jobs, engine, chunker, embedder, store, extractor, true),
		jobs:      jobs,
		engine:    engine,
		extractor: extractor,
	}
}

func (f *processorFixture) createJob(t *testing.T, job jobstore.Job) {
	t.Helper()
	require.NoError(t, f.jobs.Create(job))
}

func TestProcessFromStorage(t *testing.T) {
	f := newProcessorFixture(t)
	f.createJob(t, jobstore.Job{ID: "job-1", Filename: "report.pdf", Path: "/tmp/report.pdf"})

	require.NoError(t, f.proc.Process(context.Background(), "job-1", ""))

	job, err := f.jobs.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	assert.Equal(t, "file-job-1", job.CollectionName)
	assert.Equal(t, f.extractor.content, job.Content)

	sum := sha256.Sum256([]byte(f.extractor.content))
	assert.Equal(t, hex.EncodeToString(sum[:]), job.Hash)
	assert.Empty(t, job.ErrorMessage)

	result, err := f.engine.Get(context.Background(), "file-job-1")
	require.NoError(t, err)
	require.False(t, result.Empty())
	meta := result.Metadatas[0][0]
	assert.Equal(t, "job-1", meta[document.MetaFileID])
	assert.Equal(t, "report.pdf", meta[document.MetaName])
	assert.Equal(t, job.Hash, meta[document.MetaHash])
	assert.Contains(t, meta, document.MetaEmbeddingConfig)
}

func TestProcessFromPersistedContent(t *testing.T) {
	f := newProcessorFixture(t)
	f.createJob(t, jobstore.Job{ID: "job-2", Filename: "note.txt", Content: "already extracted note content"})

	require.NoError(t, f.proc.Process(context.Background(), "job-2", ""))

	assert.Zero(t, f.extractor.calls)
	job, err := f.jobs.Get("job-2")
	require.NoError(t, err)
	assert.Equal(t, "already extracted note content", job.Content)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
}

func TestProcessJobNotFound(t *testing.T) {
	f := newProcessorFixture(t)
	// Missing records are terminal, not retried.
	require.NoError(t, f.proc.Process(context.Background(), "nope", ""))
}

func TestProcessExtractionFailure(t *testing.T) {
	f := newProcessorFixture(t)
	f.extractor.err = ierrors.ExtractionExhausted(errors.New("all strategies failed"))
	f.createJob(t, jobstore.Job{ID: "job-3", Filename: "broken.pdf", Path: "/tmp/broken.pdf"})

	err := f.proc.Process(context.Background(), "job-3", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrExtractionExhausted))

	job, gerr := f.jobs.Get("job-3")
	require.NoError(t, gerr)
	assert.Equal(t, jobstore.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "extraction")
}

func TestProcessEmptyContent(t *testing.T) {
	f := newProcessorFixture(t)
	f.createJob(t, jobstore.Job{ID: "job-4", Filename: "empty.txt", Content: ""})

	err := f.proc.Process(context.Background(), "job-4", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrEmptyContent))

	job, gerr := f.jobs.Get("job-4")
	require.NoError(t, gerr)
	assert.Equal(t, jobstore.StatusFailed, job.Status)
}

func TestProcessDuplicateContent(t *testing.T) {
	f := newProcessorFixture(t)
	content := "shared knowledge base article"
	f.createJob(t, jobstore.Job{ID: "dup-1", Filename: "a.txt", Content: content})
	f.createJob(t, jobstore.Job{ID: "dup-2", Filename: "b.txt", Content: content})

	require.NoError(t, f.proc.Process(context.Background(), "dup-1", "kb"))

	before, err := f.engine.Get(context.Background(), "kb")
	require.NoError(t, err)
	require.False(t, before.Empty())
	count := len(before.IDs[0])

	err = f.proc.Process(context.Background(), "dup-2", "kb")
	require.Error(t, err)
	assert.True(t, ierrors.IsDuplicate(err))
	assert.False(t, ierrors.IsRetryable(err))

	// The failed attempt still persisted content and hash.
	job, gerr := f.jobs.Get("dup-2")
	require.NoError(t, gerr)
	assert.Equal(t, jobstore.StatusFailed, job.Status)
	assert.Equal(t, content, job.Content)
	assert.NotEmpty(t, job.Hash)

	after, err := f.engine.Get(context.Background(), "kb")
	require.NoError(t, err)
	assert.Equal(t, count, len(after.IDs[0]))
}

func TestProcessMigratesIndexedFile(t *testing.T) {
	f := newProcessorFixture(t)
	f.createJob(t, jobstore.Job{ID: "mig-1", Filename: "doc.txt", Content: "document promoted into a knowledge base"})

	// First pass indexes into the per-file collection.
	require.NoError(t, f.proc.Process(context.Background(), "mig-1", ""))
	source, err := f.engine.Get(context.Background(), "file-mig-1")
	require.NoError(t, err)
	require.False(t, source.Empty())

	// Promotion copies the raw points without re-extracting.
	extractCalls := f.extractor.calls
	require.NoError(t, f.proc.Process(context.Background(), "mig-1", "team-kb"))
	assert.Equal(t, extractCalls, f.extractor.calls)

	dest, err := f.engine.Get(context.Background(), "team-kb")
	require.NoError(t, err)
	require.False(t, dest.Empty())
	assert.Equal(t, len(source.IDs[0]), len(dest.IDs[0]))
	assert.ElementsMatch(t, source.IDs[0], dest.IDs[0])

	job, gerr := f.jobs.Get("mig-1")
	require.NoError(t, gerr)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	assert.Equal(t, "team-kb", job.CollectionName)
}

func TestProcessPromoteWithoutIndexedFile(t *testing.T) {
	f := newProcessorFixture(t)
	f.createJob(t, jobstore.Job{ID: "pro-1", Filename: "fresh.txt", Content: "content never indexed per-file"})

	// Promotion with no existing per-file collection falls back to the
	// persisted content and runs the normal chunk and embed path.
	require.NoError(t, f.proc.Process(context.Background(), "pro-1", "kb2"))

	dest, err := f.engine.Get(context.Background(), "kb2")
	require.NoError(t, err)
	require.False(t, dest.Empty())
	assert.Equal(t, "pro-1", dest.Metadatas[0][0][document.MetaFileID])
}

func TestProcessSearchAfterIngest(t *testing.T) {
	f := newProcessorFixture(t)
	f.createJob(t, jobstore.Job{ID: "s-1", Filename: "golang.txt", Content: "golang concurrency patterns with channels"})
	require.NoError(t, f.proc.Process(context.Background(), "s-1", ""))

	vec, err := testEncode(context.Background(), []string{"golang concurrency patterns with channels"})
	require.NoError(t, err)
	result, err := f.engine.Search(context.Background(), "file-s-1", vec, []string{"golang concurrency"}, 5)
	require.NoError(t, err)
	require.False(t, result.Empty())
	assert.Equal(t, "golang concurrency patterns with channels", result.Documents[0][0])
}

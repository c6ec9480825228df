package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbforge/ingestd/internal/ingest"
	"github.com/kbforge/ingestd/internal/jobstore"
	"github.com/kbforge/ingestd/internal/queue"
	"github.com/kbforge/ingestd/pkg/version"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("INGESTD_DATA_DIR", t.TempDir())

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ingestd")
	assert.Contains(t, out, version.Version)
}

func TestVersionCommandShort(t *testing.T) {
	out, err := runCommand(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := runCommand(t, "version", "--json")
	require.NoError(t, err)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestResetRequiresForce(t *testing.T) {
	_, err := runCommand(t, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestResetWithForce(t *testing.T) {
	out, err := runCommand(t, "reset", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "wiped")
}

func TestStatusUnknownJob(t *testing.T) {
	_, err := runCommand(t, "status", "missing-job")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-job")
}

func TestStatusShowsJob(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("INGESTD_DATA_DIR", dataDir)

	jobs, err := jobstore.Open(filepath.Join(dataDir, "jobs.db"))
	require.NoError(t, err)
	require.NoError(t, jobs.Create(jobstore.Job{
		ID:       "job-42",
		Filename: "report.pdf",
		Status:   jobstore.StatusCompleted,
	}))
	require.NoError(t, jobs.Close())

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"status", "job-42"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "job-42")
	assert.Contains(t, out.String(), "report.pdf")
	assert.Contains(t, out.String(), jobstore.StatusCompleted)
}

func TestEnqueueCreatesJobAndMessage(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("INGESTD_DATA_DIR", dataDir)

	source := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(source, []byte("document body"), 0o644))

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"enqueue", source, "--collection", "kb"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "enqueued job")

	// The uploaded copy landed in the data dir.
	_, err := os.Stat(filepath.Join(dataDir, "uploads", "doc.txt"))
	require.NoError(t, err)

	// Exactly one message carrying the new job id and collection.
	q, err := queue.OpenSQLite(filepath.Join(dataDir, "queue.db"), 0)
	require.NoError(t, err)
	defer q.Close()
	depth, err := q.Depth(t.Context(), "documents")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	delivery, err := q.Receive(t.Context(), "documents")
	require.NoError(t, err)
	var msg ingest.Message
	require.NoError(t, json.Unmarshal(delivery.Body(), &msg))
	assert.NotEmpty(t, msg.FileID)
	assert.Equal(t, "kb", msg.CollectionName)
	require.NoError(t, delivery.Ack())
}

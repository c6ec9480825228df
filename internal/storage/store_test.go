package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbforge/ingestd/internal/config"
	ierrors "github.com/kbforge/ingestd/internal/errors"
)

func TestNewDefaultsToLocal(t *testing.T) {
	store, err := New(config.StorageConfig{UploadDir: t.TempDir()})
	require.NoError(t, err)
	_, ok := store.(*LocalStore)
	assert.True(t, ok)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(config.StorageConfig{Provider: "gcs", UploadDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage provider")
}

func TestLocalUploadAndGet(t *testing.T) {
	dir := t.TempDir()
	store, err := New(config.StorageConfig{Provider: "local", UploadDir: dir})
	require.NoError(t, err)

	contents, path, err := store.UploadFile(context.Background(), strings.NewReader("hello world"), "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), contents)
	assert.Equal(t, filepath.Join(dir, "doc.txt"), path)

	// Local resolution is a passthrough.
	resolved, err := store.GetFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)

	data, err := os.ReadFile(resolved)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestLocalUploadEmpty(t *testing.T) {
	store, err := New(config.StorageConfig{Provider: "local", UploadDir: t.TempDir()})
	require.NoError(t, err)

	_, _, err = store.UploadFile(context.Background(), strings.NewReader(""), "empty.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrEmptyContent))
}

func TestLocalUploadStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	store := &LocalStore{uploadDir: dir}

	_, path, err := store.UploadFile(context.Background(), strings.NewReader("x"), "../../escape.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.txt"), path)
}

func TestLocalDeleteFile(t *testing.T) {
	dir := t.TempDir()
	store := &LocalStore{uploadDir: dir}

	_, path, err := store.UploadFile(context.Background(), strings.NewReader("bye"), "gone.txt")
	require.NoError(t, err)

	require.NoError(t, store.DeleteFile(context.Background(), path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Deleting a missing file is not an error.
	require.NoError(t, store.DeleteFile(context.Background(), path))
}

func TestLocalDeleteAllFiles(t *testing.T) {
	dir := t.TempDir()
	store := &LocalStore{uploadDir: dir}

	for _, name := range []string{"a.txt", "b.txt"} {
		_, _, err := store.UploadFile(context.Background(), strings.NewReader("x"), name)
		require.NoError(t, err)
	}

	require.NoError(t, store.DeleteAllFiles(context.Background()))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Missing directory is tolerated.
	store2 := &LocalStore{uploadDir: filepath.Join(dir, "nope")}
	require.NoError(t, store2.DeleteAllFiles(context.Background()))
}

type fakeS3 struct {
	objects map[string][]byte
	puts    []string
	deletes []string
	getErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) key(bucket, key string) string { return bucket + "/" + key }

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	k := f.key(*params.Bucket, *params.Key)
	f.objects[k] = data
	f.puts = append(f.puts, k)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[f.key(*params.Bucket, *params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	k := f.key(*params.Bucket, *params.Key)
	delete(f.objects, k)
	f.deletes = append(f.deletes, k)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var contents []s3types.Object
	for k := range f.objects {
		if strings.HasPrefix(k, *params.Bucket+"/") {
			contents = append(contents, s3types.Object{
				Key: aws.String(strings.TrimPrefix(k, *params.Bucket+"/")),
			})
		}
	}
	return &s3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(false),
	}, nil
}

func newTestS3Store(t *testing.T, client s3API) (*S3Store, string) {
	t.Helper()
	dir := t.TempDir()
	return &S3Store{
		client:   client,
		bucket:   "docs",
		endpoint: "http://minio:9000",
		cacheDir: dir,
		local:    &LocalStore{uploadDir: dir},
	}, dir
}

func TestS3UploadFile(t *testing.T) {
	fake := newFakeS3()
	store, _ := newTestS3Store(t, fake)

	contents, path, err := store.UploadFile(context.Background(), strings.NewReader("report body"), "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("report body"), contents)
	assert.Equal(t, "http://minio:9000/docs/report.pdf", path)
	assert.Equal(t, []byte("report body"), fake.objects["docs/report.pdf"])
}

func TestS3UploadEmpty(t *testing.T) {
	store, _ := newTestS3Store(t, newFakeS3())
	_, _, err := store.UploadFile(context.Background(), strings.NewReader(""), "empty.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrEmptyContent))
}

func TestS3GetFileByKey(t *testing.T) {
	fake := newFakeS3()
	fake.objects["docs/report.pdf"] = []byte("cached body")
	store, dir := newTestS3Store(t, fake)

	local, err := store.GetFile(context.Background(), "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), local)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "cached body", string(data))
}

func TestS3GetFileByEndpointURL(t *testing.T) {
	fake := newFakeS3()
	fake.objects["other/deep/report.pdf"] = []byte("from other bucket")
	store, dir := newTestS3Store(t, fake)

	local, err := store.GetFile(context.Background(), "http://minio:9000/other/deep/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), local)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "from other bucket", string(data))
}

func TestS3GetFileInvalidURL(t *testing.T) {
	store, _ := newTestS3Store(t, newFakeS3())
	_, err := store.GetFile(context.Background(), "http://minio:9000/onlybucket")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid object url")
}

func TestS3GetFileDownloadError(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("connection refused")
	store, _ := newTestS3Store(t, fake)

	_, err := store.GetFile(context.Background(), "report.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download")
}

func TestS3DeleteFile(t *testing.T) {
	fake := newFakeS3()
	fake.objects["docs/report.pdf"] = []byte("x")
	store, dir := newTestS3Store(t, fake)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("x"), 0o644))

	require.NoError(t, store.DeleteFile(context.Background(), "report.pdf"))
	assert.Empty(t, fake.objects)
	_, err := os.Stat(filepath.Join(dir, "report.pdf"))
	assert.True(t, os.IsNotExist(err))
}

func TestS3DeleteAllFiles(t *testing.T) {
	fake := newFakeS3()
	fake.objects["docs/a.pdf"] = []byte("a")
	fake.objects["docs/b.pdf"] = []byte("b")
	store, dir := newTestS3Store(t, fake)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("a"), 0o644))

	require.NoError(t, store.DeleteAllFiles(context.Background()))
	assert.Empty(t, fake.objects)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestS3PrefixedKeys(t *testing.T) {
	fake := newFakeS3()
	store, _ := newTestS3Store(t, fake)
	store.prefix = "uploads"

	_, path, err := store.UploadFile(context.Background(), strings.NewReader("x"), "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/docs/uploads/doc.txt", path)
	assert.Contains(t, fake.objects, "docs/uploads/doc.txt")
}

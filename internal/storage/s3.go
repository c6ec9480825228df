package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kbforge/ingestd/internal/config"
	ierrors "github.com/kbforge/ingestd/internal/errors"
)

func init() {
	Register("s3", newS3Store)
}

// s3API is the slice of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps documents in S3-compatible object storage and mirrors
// them into a local cache directory so downstream extraction always
// reads from the filesystem.
type S3Store struct {
	client   s3API
	bucket   string
	endpoint string
	prefix   string
	cacheDir string
	local    *LocalStore
}

var _ Store = (*S3Store)(nil)

func newS3Store(cfg config.StorageConfig) (Store, error) {
	if cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("storage.s3.bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3.Region))
	}
	if cfg.S3.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = cfg.UploadDir
	}
	return &S3Store{
		client:   client,
		bucket:   cfg.S3.Bucket,
		endpoint: strings.TrimSuffix(cfg.S3.Endpoint, "/"),
		prefix:   strings.Trim(cfg.S3.Prefix, "/"),
		cacheDir: cacheDir,
		local:    &LocalStore{uploadDir: cfg.UploadDir},
	}, nil
}

func (s *S3Store) objectKey(filename string) string {
	if s.prefix == "" {
		return filename
	}
	return path.Join(s.prefix, filename)
}

// GetFile downloads the object into the cache directory and returns the
// local path. The path argument may be a bare key or a full
// endpoint-style URL ("<endpoint>/<bucket>/<key>").
func (s *S3Store) GetFile(ctx context.Context, filePath string) (string, error) {
	bucket, key, err := s.resolveObject(filePath)
	if err != nil {
		return "", err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return "", err
	}
	localPath := filepath.Join(s.cacheDir, filepath.Base(key))
	f, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, out.Body); err != nil {
		return "", fmt.Errorf("write cached copy: %w", err)
	}
	return localPath, nil
}

func (s *S3Store) UploadFile(ctx context.Context, r io.Reader, filename string) ([]byte, string, error) {
	contents, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(contents) == 0 {
		return nil, "", ierrors.EmptyContent()
	}
	key := s.objectKey(filepath.Base(filename))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(contents),
	})
	if err != nil {
		return nil, "", fmt.Errorf("upload to s3: %w", err)
	}
	return contents, fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key), nil
}

// DeleteFile removes the object and any cached local copy.
func (s *S3Store) DeleteFile(ctx context.Context, filePath string) error {
	bucket, key, err := s.resolveObject(filePath)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete from s3: %w", err)
	}
	return s.local.DeleteFile(ctx, filePath)
}

// DeleteAllFiles removes every object in the bucket along with the
// local upload directory contents.
func (s *S3Store) DeleteAllFiles(ctx context.Context) error {
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("list s3 objects: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			}); err != nil {
				return fmt.Errorf("delete %s from s3: %w", *obj.Key, err)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return s.local.DeleteAllFiles(ctx)
}

// resolveObject maps a stored path onto a bucket and object key. Paths
// beginning with the configured endpoint carry their own bucket; bare
// paths resolve against the configured bucket.
func (s *S3Store) resolveObject(filePath string) (bucket, key string, err error) {
	if s.endpoint != "" && strings.HasPrefix(filePath, s.endpoint) {
		rest := strings.TrimPrefix(strings.TrimPrefix(filePath, s.endpoint), "/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("invalid object url: %s", filePath)
		}
		return parts[0], parts[1], nil
	}
	return s.bucket, strings.TrimPrefix(filePath, "/"), nil
}

package s3

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"docvec/apps/backend/internal/ingesterr"
)

// HashMetadataKey is the user metadata key carrying the object's MD5 hex digest.
const HashMetadataKey = "file-hash"

type GetObjectAPI interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// StagedFile is a local copy of an object. It is only returned once the
// content matched the declared hash, when one was declared.
type StagedFile struct {
	Path   string
	Bucket string
	Key    string
	Size   int64
	Hash   string
	Reused bool
}

func (f *StagedFile) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type IntegrityError struct {
	Bucket   string
	Key      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for s3://%s/%s: expected md5 %s, got %s", e.Bucket, e.Key, e.Expected, e.Actual)
}

func (e *IntegrityError) ErrorKind() ingesterr.Kind { return ingesterr.Integrity }

type Fetcher struct {
	client     GetObjectAPI
	stagingDir string
}

func NewFetcher(client GetObjectAPI, stagingDir string) *Fetcher {
	return &Fetcher{client: client, stagingDir: stagingDir}
}

// StagedName derives a collision-free local file name for an object.
func StagedName(bucket, key string) string {
	sum := sha1.Sum([]byte(bucket + "/" + key))
	return hex.EncodeToString(sum[:])[:12] + "-" + path.Base(key)
}

// Fetch downloads the object into the staging directory. An already staged
// copy is returned as is. The download goes to a temp file that is renamed
// into place only after the MD5 check passes.
func (f *Fetcher) Fetch(ctx context.Context, bucket, key string) (*StagedFile, error) {
	final := filepath.Join(f.stagingDir, StagedName(bucket, key))

	if info, err := os.Stat(final); err == nil {
		slog.InfoContext(ctx, "reusing staged file", "path", final, "key", key)
		return &StagedFile{Path: final, Bucket: bucket, Key: key, Size: info.Size(), Reused: true}, nil
	}

	if err := os.MkdirAll(f.stagingDir, 0o755); err != nil {
		return nil, ingesterr.New(ingesterr.Transient, "s3.Fetch", fmt.Errorf("create staging dir: %w", err))
	}

	out, err := f.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, ingesterr.New(ingesterr.Transient, "s3.Fetch", fmt.Errorf("s3 get failed: %w", err))
	}
	defer out.Body.Close()

	temp := final + ".temp"
	size, actual, err := writeHashed(temp, out.Body)
	if err != nil {
		os.Remove(temp)
		return nil, ingesterr.New(ingesterr.Transient, "s3.Fetch", err)
	}

	expected := declaredHash(out.Metadata)
	if expected != "" && !strings.EqualFold(expected, actual) {
		os.Remove(temp)
		return nil, &IntegrityError{Bucket: bucket, Key: key, Expected: expected, Actual: actual}
	}
	if expected == "" {
		slog.WarnContext(ctx, "object has no declared hash, skipping integrity check", "key", key)
	}

	if err := os.Rename(temp, final); err != nil {
		os.Remove(temp)
		return nil, ingesterr.New(ingesterr.Transient, "s3.Fetch", fmt.Errorf("rename staged file: %w", err))
	}

	return &StagedFile{Path: final, Bucket: bucket, Key: key, Size: size, Hash: actual}, nil
}

func writeHashed(dst string, src io.Reader) (int64, string, error) {
	file, err := os.Create(dst)
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}

	h := md5.New()
	n, err := io.Copy(io.MultiWriter(file, h), src)
	if err != nil {
		file.Close()
		return 0, "", fmt.Errorf("download body: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, "", fmt.Errorf("close temp file: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// declaredHash looks up the hash metadata. The SDK strips the x-amz-meta-
// prefix, but some gateways keep it.
func declaredHash(meta map[string]string) string {
	for k, v := range meta {
		switch strings.ToLower(k) {
		case HashMetadataKey, "x-amz-meta-" + HashMetadataKey:
			return strings.TrimSpace(v)
		}
	}
	return ""
}

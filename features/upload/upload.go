package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"docvec/apps/backend/internal/worker"
)

type ObjectUploader interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
	Bucket() string
}

type Publisher interface {
	Publish(ctx context.Context, body, groupID string) error
}

// Result is the outcome for one local file.
type Result struct {
	Path string `json:"path"`
	Key  string `json:"key"`
	Hash string `json:"hash,omitempty"`
	Err  error  `json:"-"`
}

// Service uploads local PDFs to the bucket and announces each one on the
// ingestion queue.
type Service struct {
	uploader    ObjectUploader
	pub         Publisher
	concurrency int
}

func NewService(uploader ObjectUploader, pub Publisher, concurrency int) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{uploader: uploader, pub: pub, concurrency: concurrency}
}

// UploadDir uploads every *.pdf under dir. Object keys are paths relative to
// dir. A failing file does not stop the others; the joined error lists them.
func (s *Service) UploadDir(ctx context.Context, dir string) ([]Result, error) {
	files, err := findPDFs(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		slog.InfoContext(ctx, "no pdf files to upload", "dir", dir)
		return nil, nil
	}

	results := make([]Result, len(files))
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i, rel := range files {
		results[i] = Result{Path: filepath.Join(dir, rel), Key: filepath.ToSlash(rel)}
		g.Go(func() error {
			r := &results[i]
			r.Hash, r.Err = s.uploadOne(ctx, r.Path, r.Key)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Path, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (s *Service) uploadOne(ctx context.Context, localPath, key string) (string, error) {
	hash, err := s.uploader.Upload(ctx, key, localPath)
	if err != nil {
		slog.ErrorContext(ctx, "upload failed", "error", err, "path", localPath)
		return "", err
	}

	body, err := worker.EventBody(s.uploader.Bucket(), key)
	if err != nil {
		return hash, err
	}
	if err := s.pub.Publish(ctx, body, path.Base(key)); err != nil {
		slog.ErrorContext(ctx, "failed to publish upload event", "error", err, "key", key)
		return hash, err
	}

	slog.InfoContext(ctx, "uploaded", "key", key, "hash", hash)
	return hash, nil
}

func findPDFs(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".pdf") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return files, nil
}

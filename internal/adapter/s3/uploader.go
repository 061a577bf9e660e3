package s3

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

type UploadAPI interface {
	Upload(ctx context.Context, input *awss3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Uploader puts local PDFs into the bucket with their MD5 as user metadata.
type Uploader struct {
	client UploadAPI
	bucket string
}

func NewUploader(client UploadAPI, bucket string) *Uploader {
	return &Uploader{client: client, bucket: bucket}
}

func (u *Uploader) Bucket() string { return u.bucket }

// Upload stores the file under key and returns its MD5 hex digest.
func (u *Uploader) Upload(ctx context.Context, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash, err := HashReader(file)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", localPath, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	_, err = u.client.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/pdf"),
		Metadata:    map[string]string{HashMetadataKey: hash},
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return hash, nil
}

func HashReader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

package s3util

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// maxParallelUploads bounds concurrent PutObject calls per request.
const maxParallelUploads = 8

// HighlightKey returns the object key of a highlight still.
func HighlightKey(prefix, requestID, file string) string {
	return path.Join(prefix, requestID, file)
}

// UploadFile uploads a local file to bucket/key.
func UploadFile(ctx context.Context, client API, bucket, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Uploaded to S3")
	return nil
}

// UploadHighlights uploads stills under prefix/requestID/ in parallel and
// returns their keys in the order of paths.
func UploadHighlights(ctx context.Context, client API, bucket, prefix, requestID string, paths []string, contentType string) ([]string, error) {
	keys := make([]string, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)

	for i, p := range paths {
		keys[i] = HighlightKey(prefix, requestID, filepath.Base(p))
		g.Go(func() error {
			return UploadFile(ctx, client, bucket, keys[i], p, contentType)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().Str("bucket", bucket).Str("requestId", requestID).Int("count", len(paths)).Msg("Highlights uploaded to S3")
	return keys, nil
}

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presignClient *s3.PresignClient, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

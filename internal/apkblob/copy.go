package apkblob

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

const (
	ContentTypeAPK  = "application/vnd.android.package-archive"
	ContentTypeJSON = "application/json"
)

// Copy writes r to key. If anything fails before every byte of r has been
// written, the write is aborted and nothing appears at key.
func Copy(ctx context.Context, bucket *blob.Bucket, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, r); err != nil {
		// Cancelling before Close aborts the write.
		cancel()
		_ = w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}

	if err = w.Close(); err != nil {
		return err
	}

	return nil
}

package apkblob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/frantjc/cargo-apk/android"
	"github.com/frantjc/cargo-apk/internal/sign"
	"gocloud.dev/blob"
)

// WritePackage writes pkg to key and checks that what landed there is
// the same size as pkg.
func WritePackage(ctx context.Context, bucket *blob.Bucket, key string, pkg *sign.SignedPackage) error {
	if err := Copy(ctx, bucket, key, bytes.NewReader(pkg.Bytes), ContentTypeAPK); err != nil {
		return err
	}

	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return err
	}

	if attrs.Size != int64(len(pkg.Bytes)) {
		return fmt.Errorf("wrote %d bytes to %s, expected %d", attrs.Size, key, len(pkg.Bytes))
	}

	return nil
}

// WriteAssetLinks writes the Digital Asset Links statement for packageName
// signed with pkg's certificate to key.
func WriteAssetLinks(ctx context.Context, bucket *blob.Bucket, key, packageName string, pkg *sign.SignedPackage) error {
	if pkg.Certificate == nil {
		return fmt.Errorf("no signing certificate for %s", key)
	}

	buf := new(bytes.Buffer)
	if err := android.WriteAssetLinks(buf, android.NewAssetLink(packageName, android.SHA256Fingerprint(pkg.Certificate.Raw))); err != nil {
		return err
	}

	return Copy(ctx, bucket, key, buf, ContentTypeJSON)
}

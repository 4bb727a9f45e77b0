package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 << 20

// uploadConcurrency bounds parts in flight for one archive object.
const uploadConcurrency = 3

// Writer uploads archive objects. Keys outside the archive layout are
// refused so a misconfigured caller cannot write elsewhere in the bucket.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket()}
}

// Put stores an archive object with one PutObject call.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if !IsArchiveKey(key) {
		return fmt.Errorf("s3blob: put %s: not an archive key: %w", key, domain.ErrInvalidInputParams)
	}
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart streams a large archive object in parts of partSize bytes,
// raised to the S3 minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, contentType string, partSize int64) error {
	if !IsArchiveKey(key) {
		return fmt.Errorf("s3blob: multipart put %s: not an archive key: %w", key, domain.ErrInvalidInputParams)
	}
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
		u.Concurrency = uploadConcurrency
		u.LeavePartsOnError = false
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", key, err)
	}
	return nil
}

// Store reads and writes archive objects in one bucket.
type Store struct {
	*Writer
	*Reader
}

// NewStore creates a Store for c's bucket.
func NewStore(c *Client) *Store {
	return &Store{Writer: NewWriter(c), Reader: NewReader(c)}
}

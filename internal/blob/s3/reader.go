package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// Reader serves archive objects. Only keys in the archive layout are
// visible; anything else in the bucket reads as not found.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader for c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.S3(), bucket: c.Bucket()}
}

// Get opens an archive object. The caller closes the body.
func (r *Reader) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if !IsArchiveKey(key) {
		return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	return out.Body, nil
}

// List returns the archive objects under prefix, newest first. prefix must
// lie inside the archive root.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	if !strings.HasPrefix(prefix, archiveRoot) {
		return nil, fmt.Errorf("s3blob: list %q: outside %s: %w", prefix, archiveRoot, domain.ErrInvalidInputParams)
	}
	var infos []domain.BlobInfo
	pages := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !IsArchiveKey(key) {
				continue
			}
			info := domain.BlobInfo{
				Path:        key,
				Size:        aws.ToInt64(obj.Size),
				ContentType: ContentTypeJSONL,
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	// Keys embed their date, so reverse key order is newest first.
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path > infos[j].Path })
	return infos, nil
}

// Exists reports whether an archive object is stored under key.
func (r *Reader) Exists(ctx context.Context, key string) (bool, error) {
	if !IsArchiveKey(key) {
		return false, nil
	}
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
	return true, nil
}

// isNotFound matches NoSuchKey from GetObject, the bodiless NotFound of
// HeadObject, and bare 404s from S3-compatible stores.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var resp *smithyhttp.ResponseError
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return true
	case errors.As(err, &resp):
		return resp.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

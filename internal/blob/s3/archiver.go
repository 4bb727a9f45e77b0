package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

const (
	// offerArchiveBatch bounds one archive object.
	offerArchiveBatch = 10000

	// Objects at or above multipartThreshold are uploaded in parts of
	// archivePartSize.
	multipartThreshold = 16 << 20
	archivePartSize    = 8 << 20

	// maxOfferPasses bounds the same-day offer objects probed for a free key.
	maxOfferPasses = 1000
)

// OfferArchiveStore is the slice of the offer store the archiver reads.
type OfferArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.SignedOffer, error)
}

// ArchiveBlobs is the object storage the archiver writes to. Exists lets a
// pass pick a key that does not overwrite an earlier pass.
type ArchiveBlobs interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiveImpl implements domain.Archiver by serialising pools and offers
// to JSONL objects and recording each upload in the audit log. Archived
// rows are not deleted from the primary store.
type ArchiveImpl struct {
	blobs  ArchiveBlobs
	offers OfferArchiveStore
	audit  domain.AuditStore
	now    func() time.Time

	multipartThreshold int
	partSize           int64
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(blobs ArchiveBlobs, offers OfferArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		blobs:              blobs,
		offers:             offers,
		audit:              audit,
		now:                time.Now,
		multipartThreshold: multipartThreshold,
		partSize:           archivePartSize,
	}
}

// ArchivePools writes a snapshot of the given pools to
// archive/pools/YYYY-MM-DD/HHMMSS.jsonl and returns how many were written.
// Each pass gets its own object so earlier passes of the day survive.
func (a *ArchiveImpl) ArchivePools(ctx context.Context, pools []domain.Pool) (int64, error) {
	if len(pools) == 0 {
		return 0, nil
	}
	return upload(ctx, a, "archive.pools", poolsKey(a.now()), pools, nil)
}

// ArchiveOffers writes the oldest stored offers created before the cutoff
// to archive/offers/YYYY-MM-DD.jsonl. A later pass for the same cutoff day
// goes to YYYY-MM-DD-2.jsonl, then -3 and so on.
func (a *ArchiveImpl) ArchiveOffers(ctx context.Context, before time.Time) (int64, error) {
	offers, err := a.offers.ListBefore(ctx, before, offerArchiveBatch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive offers query: %w", err)
	}
	if len(offers) == 0 {
		return 0, nil
	}
	key, err := a.freeOffersKey(ctx, before)
	if err != nil {
		return 0, err
	}
	return upload(ctx, a, "archive.offers", key, offers, map[string]any{
		"before": before.UTC().Format(time.RFC3339),
	})
}

func (a *ArchiveImpl) freeOffersKey(ctx context.Context, before time.Time) (string, error) {
	for seq := 1; seq <= maxOfferPasses; seq++ {
		key := offersKey(before, seq)
		taken, err := a.blobs.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive offers probe %s: %w", key, err)
		}
		if !taken {
			return key, nil
		}
	}
	return "", fmt.Errorf("s3blob: archive offers: %d passes already stored for %s", maxOfferPasses, before.UTC().Format("2006-01-02"))
}

func upload[T any](ctx context.Context, a *ArchiveImpl, event, key string, records []T, extra map[string]any) (int64, error) {
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s marshal: %w", event, err)
	}
	multipart := len(buf) >= a.multipartThreshold
	if multipart {
		err = a.blobs.PutMultipart(ctx, key, bytes.NewReader(buf), ContentTypeJSONL, a.partSize)
	} else {
		err = a.blobs.Put(ctx, key, bytes.NewReader(buf), ContentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s upload: %w", event, err)
	}

	count := int64(len(records))
	detail := map[string]any{"path": key, "count": count, "bytes": len(buf), "multipart": multipart}
	for k, v := range extra {
		detail[k] = v
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		return count, fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return count, nil
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

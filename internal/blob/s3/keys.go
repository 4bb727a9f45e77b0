package s3blob

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// Archive object layout:
//
//	archive/pools/2025-01-31/235959.jsonl   one object per pool pass
//	archive/offers/2025-01-31.jsonl         first offer pass for a cutoff day
//	archive/offers/2025-01-31-2.jsonl       later passes for the same day
const (
	archiveRoot = "archive/"

	// ContentTypeJSONL is the content type of every archive object.
	ContentTypeJSONL = "application/x-ndjson"
)

var archiveKeyPattern = regexp.MustCompile(
	`^archive/(?:pools/\d{4}-\d{2}-\d{2}/\d{6}|offers/\d{4}-\d{2}-\d{2}(?:-\d+)?)\.jsonl$`)

// IsArchiveKey reports whether key follows the archive layout.
func IsArchiveKey(key string) bool {
	return archiveKeyPattern.MatchString(key)
}

// ArchivePrefix returns the listing prefix for kind: "pools", "offers", or
// "" for both.
func ArchivePrefix(kind string) (string, error) {
	switch kind {
	case "":
		return archiveRoot, nil
	case "pools", "offers":
		return archiveRoot + kind + "/", nil
	default:
		return "", fmt.Errorf("s3blob: archive kind %q: %w", kind, domain.ErrInvalidInputParams)
	}
}

func poolsKey(at time.Time) string {
	at = at.UTC()
	return archiveRoot + "pools/" + at.Format("2006-01-02") + "/" + at.Format("150405") + ".jsonl"
}

// offersKey names pass seq (starting at 1) of the offers archived for the
// cutoff day of before.
func offersKey(before time.Time, seq int) string {
	day := before.UTC().Format("2006-01-02")
	if seq <= 1 {
		return archiveRoot + "offers/" + day + ".jsonl"
	}
	return archiveRoot + "offers/" + day + "-" + strconv.Itoa(seq) + ".jsonl"
}

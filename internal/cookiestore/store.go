// Package cookiestore loads and persists browser cookie snapshots from a
// blob bucket. The on-disk format is the extension-export JSON shape:
// an array of objects with camelCase fields, sameSite spelled the way
// the browser extension spells it, and expirationDate as float seconds.
package cookiestore

import (
	"context"
	"fmt"
	"math"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gocloud.dev/blob"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is one exported cookie. ExpirationDate is nil for session cookies.
type Record struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	Secure         bool     `json:"secure"`
	HTTPOnly       bool     `json:"httpOnly"`
	HostOnly       bool     `json:"hostOnly,omitempty"`
	SameSite       string   `json:"sameSite"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
	Session        bool     `json:"session,omitempty"`
	StoreID        string   `json:"storeId,omitempty"`
}

// NormalizedSameSite maps the export spelling onto the CDP attribute value.
// Unknown or unspecified values fall back to Lax, matching browser default
// behavior.
func (r Record) NormalizedSameSite() string {
	switch r.SameSite {
	case "strict":
		return "Strict"
	case "lax":
		return "Lax"
	case "no_restriction":
		return "None"
	default:
		// "unspecified" and anything unrecognized.
		return "Lax"
	}
}

// ExpiresEpoch returns the cookie expiry floored to whole epoch seconds.
// The second return is false for session cookies, which carry no expiry.
func (r Record) ExpiresEpoch() (int64, bool) {
	if r.ExpirationDate == nil {
		return 0, false
	}
	return int64(math.Floor(*r.ExpirationDate)), true
}

// Store reads and writes cookie snapshots in a blob bucket.
type Store struct {
	bucket *blob.Bucket
	logger *zap.Logger
}

// New wraps an already opened bucket. The caller owns the bucket's
// lifecycle.
func New(bucket *blob.Bucket, logger *zap.Logger) *Store {
	return &Store{bucket: bucket, logger: logger.Named("cookiestore")}
}

// Open dials a bucket by gocloud URL (e.g. "file://./data") and wraps it.
// Close releases the underlying bucket.
func Open(ctx context.Context, bucketURL string, logger *zap.Logger) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open cookie bucket %q: %w", bucketURL, err)
	}
	return New(bucket, logger), nil
}

// Close releases the underlying bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

// Load reads and decodes the cookie snapshot stored under key.
func (s *Store) Load(ctx context.Context, key string) ([]Record, error) {
	raw, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read cookie snapshot %q: %w", key, err)
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode cookie snapshot %q: %w", key, err)
	}
	s.logger.Debug("Loaded cookie snapshot.", zap.String("key", key), zap.Int("cookies", len(records)))
	return records, nil
}

// Save encodes and writes a cookie snapshot under key, replacing any
// previous snapshot.
func (s *Store) Save(ctx context.Context, key string, records []Record) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookie snapshot: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, key, raw, nil); err != nil {
		return fmt.Errorf("write cookie snapshot %q: %w", key, err)
	}
	s.logger.Info("Saved cookie snapshot.", zap.String("key", key), zap.Int("cookies", len(records)))
	return nil
}

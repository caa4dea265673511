// Package cache provides keyed, timestamped payload storage used to decide
// whether a caller can be answered without a fresh upstream call.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by a BlobStore when no blob exists for the key.
var ErrMiss = errors.New("cache miss")

// Key identifies one cached answer. Model is empty for subjects that are not
// cached per model.
type Key struct {
	Owner   string
	Subject string
	Model   string
}

func (k Key) String() string {
	s := k.Owner + "/" + k.Subject
	if k.Model != "" {
		s += "/" + k.Model
	}
	return s
}

// Subject names.
const (
	SubjectNews           = "news"
	SubjectRecommendation = "recommendation"
)

// AssetSubject returns the subject for a tracked asset's detail.
func AssetSubject(symbol string) string { return "asset:" + symbol }

// RiskSubject returns the subject for a tracked asset's risk snapshot.
func RiskSubject(symbol string) string { return "risk:" + symbol }

// IsFresh reports whether an entry of the given age may be served for the
// threshold. An entry exactly threshold old is stale.
func IsFresh(age, threshold time.Duration) bool {
	return age < threshold
}

// BlobStore persists opaque blobs by key.
type BlobStore interface {
	// Load returns the blob for key, or ErrMiss if there is none.
	Load(ctx context.Context, key Key) ([]byte, error)
	Store(ctx context.Context, key Key, data []byte) error
	// Clear removes every blob.
	Clear(ctx context.Context) error
	// ClearOwner removes every blob whose key belongs to owner.
	ClearOwner(ctx context.Context, owner string) error
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/M-sasank/finsight/internal/extract"
)

type envelope[T any] struct {
	FetchedAt time.Time `json:"fetched_at"`
	Subject   string    `json:"subject"`
	Model     string    `json:"model,omitempty"`
	Payload   T         `json:"payload"`
}

// Blob stores payloads of type T in a BlobStore wrapped in a timestamped
// envelope. Any failure while reading is logged and treated as a miss.
type Blob[T any] struct {
	store  BlobStore
	logger *slog.Logger
	now    func() time.Time
}

// NewBlob returns a Blob over store. A nil logger means slog.Default().
func NewBlob[T any](store BlobStore, logger *slog.Logger) *Blob[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Blob[T]{store: store, logger: logger, now: time.Now}
}

// SetClock replaces the time source used to stamp new entries.
func (b *Blob[T]) SetClock(now func() time.Time) {
	b.now = now
}

// Get returns the cached payload for key and when it was fetched.
func (b *Blob[T]) Get(ctx context.Context, key Key) (T, time.Time, bool) {
	var zero T

	data, err := b.store.Load(ctx, key)
	if errors.Is(err, ErrMiss) {
		return zero, time.Time{}, false
	}
	if err != nil {
		b.logger.Warn("cache read failed, treating as miss", "key", key.String(), "error", err)
		return zero, time.Time{}, false
	}

	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		b.logger.Warn("corrupt cache entry, treating as miss", "key", key.String(), "error", err)
		return zero, time.Time{}, false
	}
	if env.Subject != key.Subject || env.Model != key.Model {
		b.logger.Warn("cache entry does not match key, treating as miss",
			"key", key.String(), "subject", env.Subject, "model", env.Model)
		return zero, time.Time{}, false
	}
	if env.FetchedAt.IsZero() {
		b.logger.Warn("cache entry has no timestamp, treating as miss", "key", key.String())
		return zero, time.Time{}, false
	}
	if err := extract.Validate(&env.Payload); err != nil {
		b.logger.Warn("cached payload failed validation, treating as miss", "key", key.String(), "error", err)
		return zero, time.Time{}, false
	}
	return env.Payload, env.FetchedAt, true
}

// Put stores v for key stamped with the current time.
func (b *Blob[T]) Put(ctx context.Context, key Key, v T) error {
	data, err := json.Marshal(envelope[T]{
		FetchedAt: b.now().UTC(),
		Subject:   key.Subject,
		Model:     key.Model,
		Payload:   v,
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := b.store.Store(ctx, key, data); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	return nil
}

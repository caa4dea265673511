package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	blobExt = ".json"
	// maxBlobName keeps file names well under the usual 255-byte limit.
	maxBlobName  = 200
	maxOwnerName = 64
	// hashMark starts a hashed name part. QueryEscape emits upper-case hex
	// only, so it never produces this sequence.
	hashMark = "%h"
	// ownerSep separates the owner part of a file name. QueryEscape always
	// escapes '@', so it cannot occur inside an escaped owner.
	ownerSep = "@"
)

// FileStore keeps one JSON file per key in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func hashName(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hashMark + hex.EncodeToString(sum[:n])
}

// ownerPrefix is the file name prefix shared by every blob of owner.
func ownerPrefix(owner string) string {
	esc := url.QueryEscape(owner)
	if len(esc) > maxOwnerName {
		esc = hashName(owner, 16)
	}
	return esc + ownerSep
}

// blobName maps key to a file name. Long keys are hashed so the name stays
// within filesystem limits while keeping the owner prefix.
func blobName(key Key) string {
	prefix := ownerPrefix(key.Owner)
	rest := url.QueryEscape(strings.TrimPrefix(key.String(), key.Owner+"/"))
	if len(prefix)+len(rest)+len(blobExt) > maxBlobName {
		rest = hashName(key.String(), sha256.Size)
	}
	return prefix + rest + blobExt
}

func (f *FileStore) path(key Key) string {
	return filepath.Join(f.dir, blobName(key))
}

func (f *FileStore) Load(_ context.Context, key Key) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	return data, nil
}

// Store writes data to a temp file in the same directory and renames it over
// the target so readers never observe a partial blob.
func (f *FileStore) Store(_ context.Context, key Key, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".blob-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(_ context.Context) error {
	return f.removeMatching("")
}

func (f *FileStore) ClearOwner(_ context.Context, owner string) error {
	return f.removeMatching(ownerPrefix(owner))
}

func (f *FileStore) removeMatching(prefix string) error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blobExt) || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing cache file: %w", err)
		}
	}
	return nil
}

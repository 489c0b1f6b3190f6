package subtitles

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-password/password"
)

// blobCacheSize bounds how many converted VTT payloads are kept in memory;
// entries are small (subtitle tracks are typically under a few hundred KB)
// so this trades a modest memory budget for serving a resolved track again
// by its handle without re-fetching or re-converting it (§4.5). Entries are
// not keyed by download URL: resolving the same track twice fetches and
// converts it twice.
const blobCacheSize = 256

// BlobCache stores converted subtitle bytes behind opaque, randomly
// generated handles; the HTTP layer hands out a handle after a resolve and
// looks the bytes up server-side when the handle is later requested.
type BlobCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []byte]
}

// NewBlobCache builds an LRU-backed cache of the configured size.
func NewBlobCache() *BlobCache {
	cache, err := lru.New[string, []byte](blobCacheSize)
	if err != nil {
		// only possible with a non-positive size, which blobCacheSize never is
		panic(fmt.Sprintf("subtitles: blob cache init: %v", err))
	}
	return &BlobCache{cache: cache}
}

// Put stores data and returns a new opaque handle for it.
func (b *BlobCache) Put(data []byte) (string, error) {
	handle, err := password.Generate(24, 10, 0, false, true)
	if err != nil {
		return "", fmt.Errorf("generate blob handle: %w", err)
	}
	b.mu.Lock()
	b.cache.Add(handle, data)
	b.mu.Unlock()
	return handle, nil
}

// Get resolves a handle back to its bytes, if still cached.
func (b *BlobCache) Get(handle string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache.Get(handle)
}

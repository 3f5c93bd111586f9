package binary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// entryFileName is the metadata record stored alongside each artifact.
	entryFileName = "entry.json"
	// staleLeaseThreshold is the maximum age of an on-disk lease before a
	// crashed holder's lock is taken over.
	staleLeaseThreshold = 10 * time.Minute
	// leasePollInterval is how often a waiter re-checks an on-disk lease
	// held by another process.
	leasePollInterval = 100 * time.Millisecond
)

// Cache is a content-addressed on-disk store of fetched artifacts.
// Writes are confined to the cache root; an entry only becomes visible
// after its artifact write is complete, flushed, and renamed into place.
//
// Cache handles are passed explicitly so tests can instantiate isolated
// caches; there is no process-wide cache state.
type Cache struct {
	root    string
	sleeper Sleeper

	mu    sync.Mutex
	slots map[string]chan struct{} // per-key in-process lease slots
}

// NewCache creates a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{
		root:    dir,
		sleeper: RealSleeper{},
		slots:   map[string]chan struct{}{},
	}
}

// Key derives the cache identity for a (tool, version, resolved URL)
// triple. Two lockfile entries referencing the same concrete artifact
// share one cache slot.
func Key(name, version, url string) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write([]byte(url))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func (c *Cache) entryDir(key string) string {
	return filepath.Join(c.root, key)
}

// Lookup returns the committed entry for a key, or nil when the key has
// never been committed. Metadata that cannot be read, or whose artifact
// file is missing, is treated as absent and swept away.
func (c *Cache) Lookup(key string) (*CacheEntry, error) {
	metaPath := filepath.Join(c.entryDir(key), entryFileName)

	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Unreadable metadata means a half-written or damaged slot.
		if err := c.Remove(key); err != nil {
			return nil, err
		}
		return nil, nil
	}

	entry.path = filepath.Join(c.entryDir(key), entry.Filename)
	if info, err := os.Stat(entry.path); err != nil || info.IsDir() || info.Size() == 0 {
		if err := c.Remove(key); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &entry, nil
}

// Validate re-hashes the cached artifact against the entry's recorded
// digest. A mismatch is ErrCacheCorruption: fatal for this key, and the
// caller is expected to purge and re-fetch.
func (c *Cache) Validate(entry *CacheEntry) error {
	actual, err := HashFile(entry.path)
	if err != nil {
		return fmt.Errorf("hash cached artifact: %w", err)
	}
	if !strings.EqualFold(actual, entry.Digest) {
		return fmt.Errorf("%w: key %s digest %s does not match file contents %s",
			ErrCacheCorruption, entry.Key, entry.Digest, actual)
	}
	return nil
}

// Lease is the exclusive right to perform the fetch+verify+commit
// sequence for one cache key.
type Lease struct {
	cache    *Cache
	key      string
	lockPath string
	released bool
}

// Acquire blocks until the caller holds the exclusive lease for key, or
// until ctx is cancelled. In-process waiters queue on a per-key slot;
// cross-process exclusion uses an O_CREATE|O_EXCL lock file with stale
// takeover for crashed holders.
func (c *Cache) Acquire(ctx context.Context, key string) (*Lease, error) {
	slot := c.slot(key)

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lockPath, err := c.acquireFileLock(ctx, key)
	if err != nil {
		<-slot
		return nil, err
	}

	return &Lease{cache: c, key: key, lockPath: lockPath}, nil
}

// Release gives up the lease. Waiters blocked on Acquire for the same key
// proceed and re-read the (now possibly committed) entry.
func (l *Lease) Release() error {
	if l.released {
		return nil
	}
	l.released = true

	var err error
	if removeErr := os.Remove(l.lockPath); removeErr != nil && !os.IsNotExist(removeErr) {
		err = fmt.Errorf("remove lease file: %w", removeErr)
	}
	<-l.cache.slot(l.key)
	return err
}

func (c *Cache) slot(key string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		c.slots[key] = slot
	}
	return slot
}

// acquireFileLock creates the on-disk lease marker, polling while another
// process holds it and taking over leases older than the stale threshold.
func (c *Cache) acquireFileLock(ctx context.Context, key string) (string, error) {
	if err := os.MkdirAll(c.root, 0755); err != nil {
		return "", fmt.Errorf("create cache root: %w", err)
	}
	lockPath := filepath.Join(c.root, key+".lock")

	for {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err == nil {
			meta := fmt.Sprintf("pid=%d\ntoken=%s\ntimestamp=%s\n",
				os.Getpid(), uuid.New().String(), time.Now().UTC().Format(time.RFC3339))
			if _, werr := file.WriteString(meta); werr != nil {
				file.Close()
				os.Remove(lockPath)
				return "", fmt.Errorf("write lease metadata: %w", werr)
			}
			if serr := file.Sync(); serr != nil {
				file.Close()
				os.Remove(lockPath)
				return "", fmt.Errorf("sync lease file: %w", serr)
			}
			file.Close()
			return lockPath, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create lease file: %w", err)
		}

		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > staleLeaseThreshold {
			os.Remove(lockPath)
			continue
		}

		if serr := c.sleeper.Sleep(ctx, leasePollInterval); serr != nil {
			return "", serr
		}
	}
}

// Commit moves a fully-written temporary artifact into the cache slot and
// records its metadata. Both writes land via atomic rename, so a crash
// mid-commit never produces a falsely cached entry. The caller must hold
// the key's lease.
func (c *Cache) Commit(key, tempPath, url, filename, digest string, state EntryState) (*CacheEntry, error) {
	dir := c.entryDir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache entry dir: %w", err)
	}

	artifactPath := filepath.Join(dir, filename)
	if err := os.Rename(tempPath, artifactPath); err != nil {
		return nil, fmt.Errorf("move artifact into cache: %w", err)
	}

	entry := &CacheEntry{
		Key:       key,
		URL:       url,
		Filename:  filename,
		Digest:    digest,
		State:     state,
		UpdatedAt: time.Now().UTC(),
		path:      artifactPath,
	}

	if err := c.writeEntry(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Advance moves an entry's state forward. Backward transitions are
// rejected: the state sequence is strictly monotonic.
func (c *Cache) Advance(entry *CacheEntry, state EntryState) error {
	if entry.State.AtLeast(state) && entry.State != state {
		return fmt.Errorf("cache entry %s: cannot move state %s back to %s", entry.Key, entry.State, state)
	}
	entry.State = state
	entry.UpdatedAt = time.Now().UTC()
	return c.writeEntry(entry)
}

// Remove purges a cache slot entirely. Used for corrupt entries and by
// explicit cache clearing.
func (c *Cache) Remove(key string) error {
	if err := os.RemoveAll(c.entryDir(key)); err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// TempPath returns a unique temporary download destination inside the
// cache root, so the final rename into a slot stays on one filesystem.
func (c *Cache) TempPath() (string, error) {
	if err := os.MkdirAll(c.root, 0755); err != nil {
		return "", fmt.Errorf("create cache root: %w", err)
	}
	return filepath.Join(c.root, "download-"+uuid.New().String()), nil
}

// writeEntry persists entry metadata with write-then-rename and syncs the
// slot directory for durability.
func (c *Cache) writeEntry(entry *CacheEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	metaPath := filepath.Join(c.entryDir(entry.Key), entryFileName)
	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename cache entry: %w", err)
	}

	if dir, err := os.Open(c.entryDir(entry.Key)); err == nil {
		if syncErr := dir.Sync(); syncErr != nil {
			dir.Close()
			return fmt.Errorf("sync cache entry dir: %w", syncErr)
		}
		dir.Close()
	}
	return nil
}

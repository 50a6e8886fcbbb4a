// Package assets provides a file cache over one root directory with a
// bounded amount of memory.
//
// Files up to MaxFileSize bytes are kept in memory, at most MaxFileCount of
// them, evicting the least recently used entry when full. Larger files are
// never buffered: their entries carry an Open function that reads from disk
// when the response is written. Resident entries are refreshed whenever the
// backing file's size or modification time changes.
package assets

import (
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Config bounds a Cache. It is not modified after New.
type Config struct {
	Root         string
	MaxFileCount int
	MaxFileSize  int64
}

// Entry is the result of a successful lookup. Exactly one of Buffer or Open
// is set for a servable file; an Entry with neither has no content.
type Entry struct {
	Path    string
	Ext     string
	Size    int64
	ModTime time.Time
	Hash    uint64

	Buffer []byte
	Open   func() (io.ReadCloser, error)
}

// Buffered reports whether the content is held in memory.
func (e *Entry) Buffered() bool {
	return e != nil && e.Buffer != nil
}

// HasContent reports whether the entry can produce a body.
func (e *Entry) HasContent() bool {
	return e != nil && (e.Buffer != nil || e.Open != nil)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits          int64
	Misses        int64
	Evictions     int64
	ResidentCount int
	ResidentBytes int64
}

// residentEntry is a node in the LRU list.
type residentEntry struct {
	entry *Entry
	prev  *residentEntry
	next  *residentEntry
}

// Cache serves files below Config.Root.
type Cache struct {
	fs     afero.Fs
	config Config

	mutex         sync.Mutex
	entries       map[string]*residentEntry
	residentBytes int64
	// LRU list with sentinel head and tail
	head *residentEntry
	tail *residentEntry

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache over config.Root on fs.
func New(fs afero.Fs, config Config) *Cache {
	c := &Cache{
		fs:      fs,
		config:  config,
		entries: make(map[string]*residentEntry),
		head:    &residentEntry{},
		tail:    &residentEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Get resolves p (slash separated, relative to the root; a leading slash is
// ignored) to an entry. The boolean is false when no regular file exists.
func (c *Cache) Get(p string) (*Entry, bool) {
	rel, ok := clean(p)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	full := filepath.Join(c.config.Root, filepath.FromSlash(rel))

	info, err := c.fs.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		c.Invalidate(rel)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	base := Entry{
		Path:    "/" + rel,
		Ext:     strings.TrimPrefix(path.Ext(rel), "."),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	if info.Size() > c.config.MaxFileSize || c.config.MaxFileCount <= 0 {
		c.Invalidate(rel)
		atomic.AddInt64(&c.misses, 1)
		base.Open = c.opener(full)
		return &base, true
	}

	if e := c.lookup(rel, info.Size(), info.ModTime()); e != nil {
		atomic.AddInt64(&c.hits, 1)
		return e, true
	}
	atomic.AddInt64(&c.misses, 1)

	data, err := afero.ReadFile(c.fs, full)
	if err != nil {
		// Raced with a delete or permission change.
		return nil, false
	}
	if data == nil {
		data = []byte{}
	}

	base.Buffer = data
	base.Size = int64(len(data))
	base.Hash = xxhash.Sum64(data)

	entry := base
	c.store(rel, &entry)

	return &entry, true
}

// Invalidate drops the resident copy of p, if any.
func (c *Cache) Invalidate(p string) {
	rel, ok := clean(p)
	if !ok {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if re, exists := c.entries[rel]; exists {
		c.remove(rel, re)
	}
}

// Clear drops every resident entry.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*residentEntry)
	c.residentBytes = 0
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mutex.Lock()
	count, size := len(c.entries), c.residentBytes
	c.mutex.Unlock()

	return Stats{
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Evictions:     atomic.LoadInt64(&c.evictions),
		ResidentCount: count,
		ResidentBytes: size,
	}
}

func (c *Cache) opener(full string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return c.fs.Open(full)
	}
}

// lookup returns the resident entry for rel if it still matches the file on
// disk, dropping it otherwise.
func (c *Cache) lookup(rel string, size int64, modTime time.Time) *Entry {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	re, exists := c.entries[rel]
	if !exists {
		return nil
	}

	if re.entry.Size != size || !re.entry.ModTime.Equal(modTime) {
		c.remove(rel, re)
		return nil
	}

	c.moveToFront(re)

	return re.entry
}

func (c *Cache) store(rel string, e *Entry) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if old, exists := c.entries[rel]; exists {
		c.remove(rel, old)
	}

	for len(c.entries) >= c.config.MaxFileCount && c.tail.prev != c.head {
		lru := c.tail.prev
		c.remove(strings.TrimPrefix(lru.entry.Path, "/"), lru)
		atomic.AddInt64(&c.evictions, 1)
	}

	re := &residentEntry{entry: e}
	c.entries[rel] = re
	c.residentBytes += e.Size
	c.addToFront(re)
}

// remove must be called with the mutex held.
func (c *Cache) remove(rel string, re *residentEntry) {
	c.removeFromList(re)
	delete(c.entries, rel)
	c.residentBytes -= re.entry.Size
}

func (c *Cache) addToFront(re *residentEntry) {
	re.prev = c.head
	re.next = c.head.next
	c.head.next.prev = re
	c.head.next = re
}

func (c *Cache) removeFromList(re *residentEntry) {
	re.prev.next = re.next
	re.next.prev = re.prev
}

func (c *Cache) moveToFront(re *residentEntry) {
	c.removeFromList(re)
	c.addToFront(re)
}

// clean normalises p to a root-relative slash path that cannot escape the
// root. The root itself is not a file, so it is rejected.
func clean(p string) (string, bool) {
	if strings.ContainsRune(p, 0) {
		return "", false
	}

	rel := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, `\`, "/")), "/")
	if rel == "" || rel == "." {
		return "", false
	}

	return rel, true
}

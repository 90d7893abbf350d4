package pii

import (
	"context"
	"log"
	"sync"
	"time"
)

const dbOperationTimeout = 5 * time.Second

// ResultCache keeps scan results in memory in front of an optional
// ScanResultDB. Database failures are logged and the cache keeps serving.
type ResultCache struct {
	mu       sync.RWMutex
	cache    map[string]StoredScan
	db       ScanResultDB
	useCache bool
	debug    bool
}

// NewResultCache creates a cache over db. db may be nil for a
// memory-only cache.
func NewResultCache(db ScanResultDB, useCache, debug bool) *ResultCache {
	if db == nil {
		useCache = true
	}
	return &ResultCache{
		cache:    make(map[string]StoredScan),
		db:       db,
		useCache: useCache,
		debug:    debug,
	}
}

// Get returns the stored scan for imageURI, checking memory first
func (rc *ResultCache) Get(ctx context.Context, imageURI string) (StoredScan, bool) {
	if rc.useCache {
		rc.mu.RLock()
		scan, ok := rc.cache[imageURI]
		rc.mu.RUnlock()
		if ok {
			return scan, true
		}
	}

	if rc.db == nil {
		return StoredScan{}, false
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	scan, ok, err := rc.db.GetScan(dbCtx, imageURI)
	if err != nil {
		log.Printf("[Database] ❌ Failed to load scan: %v", err)
		return StoredScan{}, false
	}
	if !ok {
		return StoredScan{}, false
	}
	if rc.debug {
		log.Printf("[Database] Restored scan result for %s", imageURI)
	}

	if rc.useCache {
		rc.mu.Lock()
		rc.cache[imageURI] = scan
		rc.mu.Unlock()
	}
	return scan, true
}

// Put stores a scan in memory and in the database
func (rc *ResultCache) Put(ctx context.Context, scan StoredScan) {
	if rc.useCache {
		rc.mu.Lock()
		rc.cache[scan.ImageURI] = scan
		rc.mu.Unlock()
	}

	if rc.db == nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	if err := rc.db.StoreScan(dbCtx, scan); err != nil {
		log.Printf("[Database] ❌ Failed to store scan: %v", err)
		return
	}
	if rc.debug {
		log.Printf("[Database] Stored scan result for %s", scan.ImageURI)
	}
}

// Delete removes a scan from memory and from the database
func (rc *ResultCache) Delete(ctx context.Context, imageURI string) {
	rc.mu.Lock()
	delete(rc.cache, imageURI)
	rc.mu.Unlock()

	if rc.db == nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	if err := rc.db.DeleteScan(dbCtx, imageURI); err != nil {
		log.Printf("[Database] ❌ Failed to delete scan: %v", err)
	}
}

// Cleanup drops scans older than olderThan from both layers
func (rc *ResultCache) Cleanup(ctx context.Context, olderThan time.Duration) int64 {
	cutoff := time.Now().Add(-olderThan)
	var removed int64

	rc.mu.Lock()
	for uri, scan := range rc.cache {
		if scan.ScannedAt.Before(cutoff) {
			delete(rc.cache, uri)
			removed++
		}
	}
	rc.mu.Unlock()

	if rc.db == nil {
		return removed
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	n, err := rc.db.CleanupOldScans(dbCtx, olderThan)
	if err != nil {
		log.Printf("[Database] ❌ Failed to clean up old scans: %v", err)
		return removed
	}
	if n > removed {
		removed = n
	}
	return removed
}

// Close closes the underlying database
func (rc *ResultCache) Close() error {
	if rc.db == nil {
		return nil
	}
	return rc.db.Close()
}

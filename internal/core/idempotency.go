package core

import (
	"InsureLedger/internal/observability"
	"container/list"
	"fmt"
)

// IdempotencyChecker implements the in-memory tiers of deduplication. The
// record store holds the authoritative applied-command marker; these tiers
// only spare a store read.
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU holding the result of each applied command
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics // nil disables reporting
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	lru := NewIdempotencyLRU(capacity)
	if metrics != nil {
		lru.onEvict = metrics.DedupEvictions.Inc
	}
	return &IdempotencyChecker{
		lru:       lru,
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// Lookup reports whether the command was already applied. The cached result
// is returned when the LRU still holds it; a tier-2 hit yields a nil result.
func (ic *IdempotencyChecker) Lookup(eventType string, idempotencyKey string) (*Result, string, bool) {
	compositeKey := compositeKey(eventType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if res, ok := ic.lru.Get(compositeKey); ok {
		return res, "lru", true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// Fall through to the record store check
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return nil, "", false
		}

		if isDup {
			ic.lru.Add(compositeKey, nil)
			return nil, "postgres", true
		}
	}

	return nil, "", false
}

// MarkProcessed caches the result after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string, res *Result) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey), res)
}

// Warm loads recently applied keys so restarts avoid cold-path lookups.
func (ic *IdempotencyChecker) Warm(keys [][2]string) {
	for _, k := range keys {
		ic.lru.Add(compositeKey(k[0], k[1]), nil)
	}
}

func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Size()
}

func compositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache of applied command results.
// Not thread-safe; only accessed under the engine's writer lock.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	onEvict func()
}

type lruEntry struct {
	key    string
	result *Result
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Get returns the cached result (promotes to front)
func (lru *IdempotencyLRU) Get(key string) (*Result, bool) {
	elem, exists := lru.cache[key]
	if !exists {
		return nil, false
	}
	lru.lruList.MoveToFront(elem)
	return elem.Value.(*lruEntry).result, true
}

// Add inserts a key (or promotes and refreshes it if present)
func (lru *IdempotencyLRU) Add(key string, result *Result) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		if result != nil {
			elem.Value.(*lruEntry).result = result
		}
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key, result: result})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(*lruEntry).key)
		if lru.onEvict != nil {
			lru.onEvict()
		}
	}
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

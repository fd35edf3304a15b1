package core

import (
	"container/list"
)

// IdempotencyChecker deduplicates operations in two tiers: an in-memory
// LRU of recent keys, then the persisted event log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker

	duplicates  map[string]int64 // "<tier>:<type>" -> count
	tier2Errors int64
}

// DBIdempotencyChecker looks up a key in the persisted event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:        NewIdempotencyLRU(capacity),
		dbChecker:  dbChecker,
		duplicates: make(map[string]int64),
	}
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate reports whether the operation was already applied.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := compositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.duplicates["lru:"+eventType]++
		return true
	}

	if ic.dbChecker == nil {
		return false
	}
	isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		// A DB outage must not block processing; treat as not seen.
		ic.tier2Errors++
		return false
	}
	if isDup {
		ic.duplicates["postgres:"+eventType]++
		ic.lru.Add(key)
	}
	return isDup
}

// MarkProcessed records a successfully applied operation.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey))
}

// Duplicates returns how often eventType was caught by each tier.
func (ic *IdempotencyChecker) Duplicates(eventType string) (lru, postgres int64) {
	return ic.duplicates["lru:"+eventType], ic.duplicates["postgres:"+eventType]
}

func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}

// IdempotencyLRU is a bounded set of composite keys with LRU eviction.
// Only accessed from the facade goroutine.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List // front is most recently used

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains checks for key and promotes it on a hit.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.order.PushFront(key)

	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads composite keys, most recently used first, so a
// restart does not send recent duplicates to the Postgres tier.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if lru.order.Len() >= lru.capacity {
			return
		}
		if _, ok := lru.cache[key]; ok {
			continue
		}
		lru.cache[key] = lru.order.PushBack(key)
	}
}

// GetAllKeys returns every cached key, most recently used first.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.order.Len())
	for elem := lru.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

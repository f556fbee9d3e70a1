package cache

import (
	"container/list"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/platform/metrics"
	"warden/internal/punishment/models"
)

// Eviction reasons reported to metrics.
const (
	EvictCapacity = "capacity"
	EvictRevoked  = "revoked"
	EvictExpired  = "expired"
	EvictRemoved  = "removed"
)

// DefaultCapacity bounds the owners held per type when no capacity is given.
const DefaultCapacity = 10000

// Cache holds the records most likely to be asked for: punishments of
// cacheable types, grouped per type and per owner. It is a read-through
// accelerator only; the store stays authoritative.
//
// Each type gets its own partition with its own lock, so writes for BAN never
// contend with reads for MUTE. The id index has a separate lock; it is always
// taken after a partition lock, never before.
type Cache struct {
	capacity int
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu         sync.RWMutex
	partitions map[string]*partition

	idxMu sync.RWMutex
	index map[string]indexEntry
}

type indexEntry struct {
	typeName string
	owner    uuid.UUID
}

// partition holds the owner buckets of one type. order keeps owners from
// least to most recently written; the front is evicted first.
type partition struct {
	mu      sync.Mutex
	name    string
	buckets map[uuid.UUID]*list.Element
	order   *list.List
}

type bucket struct {
	owner   uuid.UUID
	records []*models.Record
}

// Option configures a Cache.
type Option func(*Cache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache bounded to capacity owners per type.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		capacity:   capacity,
		logger:     slog.New(slog.DiscardHandler),
		partitions: make(map[string]*partition),
		index:      make(map[string]indexEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) partition(name string, create bool) *partition {
	c.mu.RLock()
	p := c.partitions[name]
	c.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p = c.partitions[name]; p == nil {
		p = &partition{name: name, buckets: make(map[uuid.UUID]*list.Element), order: list.New()}
		c.partitions[name] = p
	}
	return p
}

// Put stores rec, replacing any entry with the same id. Records of
// non-cacheable types are ignored and Put reports false.
func (c *Cache) Put(rec *models.Record) bool {
	if rec == nil || !rec.Type().Cacheable {
		return false
	}
	p := c.partition(rec.Type().Name, true)
	owner := rec.Owner()

	p.mu.Lock()
	defer p.mu.Unlock()

	c.idxMu.RLock()
	prev, seen := c.index[rec.ID()]
	c.idxMu.RUnlock()
	if seen && prev.owner != owner {
		p.dropRecord(prev.owner, rec.ID())
	}

	el, ok := p.buckets[owner]
	if ok {
		b := el.Value.(*bucket)
		b.records = slices.DeleteFunc(b.records, func(r *models.Record) bool { return r.ID() == rec.ID() })
		b.records = append(b.records, rec)
		p.order.MoveToBack(el)
	} else {
		p.buckets[owner] = p.order.PushBack(&bucket{owner: owner, records: []*models.Record{rec}})
	}

	c.idxMu.Lock()
	c.index[rec.ID()] = indexEntry{typeName: p.name, owner: owner}
	c.idxMu.Unlock()

	for len(p.buckets) > c.capacity {
		c.evictOldestLocked(p)
	}
	c.reportOwners(p)
	return true
}

// evictOldestLocked drops the least recently written owner. Caller holds p.mu.
func (c *Cache) evictOldestLocked(p *partition) {
	front := p.order.Front()
	if front == nil {
		return
	}
	b := p.order.Remove(front).(*bucket)
	delete(p.buckets, b.owner)

	c.idxMu.Lock()
	for _, r := range b.records {
		delete(c.index, r.ID())
	}
	c.idxMu.Unlock()

	if c.metrics != nil {
		c.metrics.IncCacheEviction(p.name, EvictCapacity)
	}
	c.logger.Debug("cache owner evicted", "type", p.name, "owner", b.owner, "records", len(b.records))
}

// dropRecord removes id from owner's bucket. Caller holds p.mu.
func (p *partition) dropRecord(owner uuid.UUID, id string) bool {
	el, ok := p.buckets[owner]
	if !ok {
		return false
	}
	b := el.Value.(*bucket)
	n := len(b.records)
	b.records = slices.DeleteFunc(b.records, func(r *models.Record) bool { return r.ID() == id })
	if len(b.records) == 0 {
		p.order.Remove(el)
		delete(p.buckets, owner)
	}
	return len(b.records) != n
}

// Get returns the record with id when it is cached and still active at now.
// A revoked or expired hit is evicted and reported as a miss.
func (c *Cache) Get(id string, now time.Time) (*models.Record, bool) {
	c.idxMu.RLock()
	entry, ok := c.index[id]
	c.idxMu.RUnlock()
	if !ok {
		return nil, false
	}
	p := c.partition(entry.typeName, false)
	if p == nil {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var found *models.Record
	if el, ok := p.buckets[entry.owner]; ok {
		for _, r := range el.Value.(*bucket).records {
			if r.ID() == id {
				found = r
				break
			}
		}
	}
	if found == nil {
		c.missed(p.name)
		return nil, false
	}
	if state := found.State(now); state != models.StateActive {
		c.evictLocked(p, found, reasonFor(state))
		c.missed(p.name)
		return nil, false
	}
	c.hit(p.name)
	return found, true
}

// Active returns the newest active record for owner of type typ. Inactive
// records met along the way are evicted.
func (c *Cache) Active(owner uuid.UUID, typ models.Type, now time.Time) (*models.Record, bool) {
	p := c.partition(typ.Name, false)
	if p == nil {
		if c.metrics != nil {
			c.metrics.IncCacheMiss(typ.Name)
		}
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.buckets[owner]
	if !ok {
		c.missed(p.name)
		return nil, false
	}

	var newest *models.Record
	var stale []*models.Record
	for _, r := range el.Value.(*bucket).records {
		if !r.IsActive(now) {
			stale = append(stale, r)
			continue
		}
		if newest == nil || !r.IssuedAt().Before(newest.IssuedAt()) {
			newest = r
		}
	}
	for _, r := range stale {
		c.evictLocked(p, r, reasonFor(r.State(now)))
	}

	if newest == nil {
		c.missed(p.name)
		return nil, false
	}
	c.hit(p.name)
	return newest, true
}

// ForOwner returns the cached records of owner in insertion order, active or
// not. An empty typeName returns every cached type, ordered by type name.
func (c *Cache) ForOwner(owner uuid.UUID, typeName string) []*models.Record {
	var parts []*partition
	if typeName != "" {
		if p := c.partition(typeName, false); p != nil {
			parts = append(parts, p)
		}
	} else {
		c.mu.RLock()
		for _, p := range c.partitions {
			parts = append(parts, p)
		}
		c.mu.RUnlock()
		sort.Slice(parts, func(i, j int) bool { return parts[i].name < parts[j].name })
	}

	var out []*models.Record
	for _, p := range parts {
		p.mu.Lock()
		if el, ok := p.buckets[owner]; ok {
			out = append(out, el.Value.(*bucket).records...)
		}
		p.mu.Unlock()
	}
	return out
}

// Remove drops id from the cache and reports whether it was present.
func (c *Cache) Remove(id string) bool {
	c.idxMu.RLock()
	entry, ok := c.index[id]
	c.idxMu.RUnlock()
	if !ok {
		return false
	}
	p := c.partition(entry.typeName, false)
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	removed := p.dropRecord(entry.owner, id)
	c.idxMu.Lock()
	delete(c.index, id)
	c.idxMu.Unlock()
	if removed && c.metrics != nil {
		c.metrics.IncCacheEviction(p.name, EvictRemoved)
	}
	c.reportOwners(p)
	return removed
}

// Owners returns the number of owners cached for typeName.
func (c *Cache) Owners(typeName string) int {
	p := c.partition(typeName, false)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}

// Len returns the number of cached records across all types.
func (c *Cache) Len() int {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	return len(c.index)
}

// evictLocked removes r after it was found inactive. Caller holds p.mu.
func (c *Cache) evictLocked(p *partition, r *models.Record, reason string) {
	p.dropRecord(r.Owner(), r.ID())
	c.idxMu.Lock()
	delete(c.index, r.ID())
	c.idxMu.Unlock()
	if c.metrics != nil {
		c.metrics.IncCacheEviction(p.name, reason)
	}
	c.reportOwners(p)
}

func (c *Cache) reportOwners(p *partition) {
	if c.metrics != nil {
		c.metrics.SetCacheOwners(p.name, len(p.buckets))
	}
}

func (c *Cache) hit(typeName string) {
	if c.metrics != nil {
		c.metrics.IncCacheHit(typeName)
	}
}

func (c *Cache) missed(typeName string) {
	if c.metrics != nil {
		c.metrics.IncCacheMiss(typeName)
	}
}

func reasonFor(s models.State) string {
	if s == models.StateRevoked {
		return EvictRevoked
	}
	return EvictExpired
}

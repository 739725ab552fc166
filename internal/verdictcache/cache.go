// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package verdictcache remembers scan verdicts by content hash and holds the
// operator's allow and deny lists.
package verdictcache

import (
	"context"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/consttime"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/logging"
)

// DefaultSize is the number of verdicts kept when Config.Size is zero.
const DefaultSize = 10000

// Config sizes the cache and seeds the hash lists. Hashes are hex strings.
type Config struct {
	Size  int
	TTL   time.Duration // zero keeps entries until evicted
	Allow []string
	Deny  []string
}

// Entry is a cached verdict.
type Entry struct {
	Hash     string    `json:"hash"`
	Score    float64   `json:"score"`
	Level    string    `json:"level"`
	Labels   []string  `json:"labels,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

// ListMatch is the result of checking a hash against the operator lists.
type ListMatch int

const (
	Unlisted ListMatch = iota
	Allowed
	Denied
)

func (m ListMatch) String() string {
	switch m {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unlisted"
	}
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Expired   uint64 `json:"expired"`
	Published uint64 `json:"published"`
	Entries   int    `json:"entries"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithPublisher announces every stored verdict.
func WithPublisher(p Publisher) Option {
	return func(c *Cache) { c.publisher = p }
}

// WithClock sets the clock used for TTL checks.
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) { c.clk = clk }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache is safe for concurrent use.
type Cache struct {
	entries   *lru.Cache[string, Entry]
	ttl       time.Duration
	allow     []string
	deny      []string
	publisher Publisher
	clk       clock.Clock
	logger    *logging.Logger

	hits, misses, expired, published atomic.Uint64
}

// New builds a cache. List entries must be hex encoded.
func New(cfg Config, opts ...Option) (*Cache, error) {
	size := cfg.Size
	if size == 0 {
		size = DefaultSize
	}
	if size < 0 {
		return nil, errors.Errorf(errors.KindValidation, "verdict cache: negative size %d", size)
	}
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "verdict cache")
	}

	c := &Cache{entries: entries, ttl: cfg.TTL}
	for _, opt := range opts {
		opt(c)
	}
	c.clk = clock.Or(c.clk)
	c.logger = logging.Or(c.logger, "verdictcache")

	if c.allow, err = normalizeAll(cfg.Allow); err != nil {
		return nil, err
	}
	if c.deny, err = normalizeAll(cfg.Deny); err != nil {
		return nil, err
	}
	return c, nil
}

// NormalizeHash lowercases and trims a hex hash.
func NormalizeHash(h string) (string, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return "", errors.New(errors.KindValidation, "verdict cache: empty hash")
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", errors.Wrapf(err, errors.KindValidation, "verdict cache: hash %q is not hex", h)
	}
	return h, nil
}

func normalizeAll(hashes []string) ([]string, error) {
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		n, err := NormalizeHash(h)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// CheckLists reports whether hash is on the deny or allow list. Deny wins.
// Every list entry is compared in constant time and the scan never stops
// early, so timing reveals neither membership nor position.
func (c *Cache) CheckLists(hash string) ListMatch {
	hash = strings.ToLower(strings.TrimSpace(hash))
	denied := matchAny(c.deny, hash)
	allowed := matchAny(c.allow, hash)
	switch {
	case denied:
		return Denied
	case allowed:
		return Allowed
	}
	return Unlisted
}

func matchAny(list []string, hash string) bool {
	found := false
	for _, h := range list {
		found = consttime.Hashes(h, hash) || found
	}
	return found
}

// Lookup returns the cached verdict for hash.
func (c *Cache) Lookup(hash string) (Entry, bool) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	e, ok := c.entries.Get(hash)
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	if c.ttl > 0 && c.clk.Now().Sub(e.StoredAt) >= c.ttl {
		c.entries.Remove(hash)
		c.expired.Add(1)
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return e, true
}

// Store caches a verdict and publishes it. A publish failure is logged and
// does not undo the store.
func (c *Cache) Store(ctx context.Context, e Entry) error {
	hash, err := NormalizeHash(e.Hash)
	if err != nil {
		return err
	}
	e.Hash = hash
	if e.StoredAt.IsZero() {
		e.StoredAt = c.clk.Now()
	}
	c.entries.Add(hash, e)

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, NewEvent(e)); err != nil {
			c.logger.Warn("verdict publish failed", "hash", hash, "error", err)
		} else {
			c.published.Add(1)
		}
	}
	return nil
}

// Purge drops every cached verdict. The lists are kept.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len is the number of cached verdicts.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Expired:   c.expired.Load(),
		Published: c.published.Load(),
		Entries:   c.entries.Len(),
	}
}

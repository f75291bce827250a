package batprotocol

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/batsched/batsched/pkg/intervalset"
)

const defaultRangeCacheSize = 1024

var defaultRangeCache = NewRangeCache(defaultRangeCacheSize)

// RangeCache parses host range strings, remembering the most recently parsed ones.
// Decision components tend to send the same few ranges over and over, e.g. the whole platform.
// Sets are immutable, so cached values can be shared.
type RangeCache struct {
	lru *lru.Cache
}

// NewRangeCache returns a *RangeCache backed by a LRU of the given size.
func NewRangeCache(cacheSize uint32) *RangeCache {
	lru, err := lru.New(int(cacheSize))
	if err != nil {
		panic(errors.WithStack(err).Error())
	}
	return &RangeCache{lru: lru}
}

func (c *RangeCache) Parse(s string) (intervalset.Set, error) {
	if existing, ok := c.lru.Get(s); ok {
		return existing.(intervalset.Set), nil
	}
	set, err := intervalset.FromString(s)
	if err != nil {
		return intervalset.Set{}, err
	}
	c.lru.Add(s, set)
	return set, nil
}

func (c *RangeCache) Len() int {
	return c.lru.Len()
}

// ParseHostRange parses a host range string through a package-wide cache.
func ParseHostRange(s string) (intervalset.Set, error) {
	return defaultRangeCache.Parse(s)
}

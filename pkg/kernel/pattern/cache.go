package pattern

import (
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of compiled expressions kept per cache.
const DefaultCacheSize = 256

// Cache keeps recently compiled regular expressions keyed by source.
// Failed compilations are not cached. A nil *Cache compiles every time.
type Cache struct {
	lru *lru.Cache[string, *regexp.Regexp]
}

// NewCache returns a cache holding at most size expressions.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil
	}
	return &Cache{lru: c}
}

// Compile returns the compiled expression for expr.
func (c *Cache) Compile(expr string) (*regexp.Regexp, error) {
	if c == nil || c.lru == nil {
		return regexp.Compile(expr)
	}
	if re, ok := c.lru.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	c.lru.Add(expr, re)
	return re, nil
}

// Extractor compiles tmpl against lookup, reusing cached expressions.
func (c *Cache) Extractor(tmpl string, lookup Lookup) (*Extractor, error) {
	return compileExtractor(tmpl, lookup, c)
}

// Len returns the number of cached expressions.
func (c *Cache) Len() int {
	if c == nil || c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

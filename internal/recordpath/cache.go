package recordpath

import (
	"sync"
	"sync/atomic"

	"github.com/ohler55/ojg/jp"
	"golang.org/x/sync/singleflight"

	"github.com/canectors/keyhash/internal/errhandling"
)

// Selector is a compiled path expression. Selectors are immutable and safe to
// share across goroutines.
type Selector struct {
	text     string
	jsonPath string
	expr     jp.Expr

	// unordered is set when evaluation iterates map keys
	unordered bool
}

// Text returns the source text the selector was compiled from.
func (s *Selector) Text() string {
	return s.text
}

// JSONPath returns the JSONPath form the source text was translated to.
func (s *Selector) JSONPath() string {
	return s.jsonPath
}

// Compile compiles a path expression without caching.
// Failures are classified as path_syntax errors.
func Compile(text string) (*Selector, error) {
	jsonPath, err := ToJSONPath(text)
	if err != nil {
		return nil, errhandling.NewPathSyntaxError(text, err)
	}

	expr, err := jp.ParseString(jsonPath)
	if err != nil {
		return nil, errhandling.NewPathSyntaxError(text, err)
	}

	return &Selector{text: text, jsonPath: jsonPath, expr: expr, unordered: iteratesMaps(expr)}, nil
}

// iteratesMaps reports whether expr contains a fragment whose matches follow
// Go map iteration order.
func iteratesMaps(expr jp.Expr) bool {
	for _, frag := range expr {
		switch frag.(type) {
		case jp.Wildcard, jp.Descent, *jp.Filter:
			return true
		}
	}
	return false
}

// Cache memoizes compiled selectors by source text.
//
// A given text is compiled at most once at a time; concurrent first lookups of
// the same text share one compilation. Failed compilations are not stored.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*Selector
	group    singleflight.Group
	compiles atomic.Int64
}

// NewCache creates an empty selector cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Selector)}
}

// Compile returns the cached selector for text, compiling it on first use.
func (c *Cache) Compile(text string) (*Selector, error) {
	if sel, ok := c.lookup(text); ok {
		return sel, nil
	}

	v, err, _ := c.group.Do(text, func() (interface{}, error) {
		if sel, ok := c.lookup(text); ok {
			return sel, nil
		}

		sel, err := Compile(text)
		if err != nil {
			return nil, err
		}
		c.compiles.Add(1)

		c.mu.Lock()
		c.entries[text] = sel
		c.mu.Unlock()
		return sel, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Selector), nil
}

func (c *Cache) lookup(text string) (*Selector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sel, ok := c.entries[text]
	return sel, ok
}

// Len returns the number of cached selectors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Compilations returns how many successful compilations the cache performed.
func (c *Cache) Compilations() int64 {
	return c.compiles.Load()
}

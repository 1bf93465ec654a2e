package vectorindex

import (
	"os"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/logsift/pkg/types"
)

// queryCache memoizes search responses per index generation. The generation
// is the index file's size and modification time, so any rewrite by this or
// another process makes older entries unreachable.
type queryCache struct {
	cache *lru.Cache[string, []types.SearchResult]
}

func newQueryCache(size int) *queryCache {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[string, []types.SearchResult](size)
	if err != nil {
		return nil
	}
	return &queryCache{cache: c}
}

func generation(info os.FileInfo) string {
	return strconv.FormatInt(info.Size(), 36) + "." + strconv.FormatInt(info.ModTime().UnixNano(), 36)
}

func cacheKey(projectDir, gen, query string, topK int) string {
	return projectDir + "\x00" + gen + "\x00" + strconv.Itoa(topK) + "\x00" + query
}

func (c *queryCache) get(key string) ([]types.SearchResult, bool) {
	if c == nil {
		return nil, false
	}
	results, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return copyResults(results), true
}

func (c *queryCache) set(key string, results []types.SearchResult) {
	if c == nil {
		return
	}
	c.cache.Add(key, copyResults(results))
}

func (c *queryCache) len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

func copyResults(src []types.SearchResult) []types.SearchResult {
	out := make([]types.SearchResult, len(src))
	copy(out, src)
	return out
}

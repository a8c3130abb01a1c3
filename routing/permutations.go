package routing

import (
	lru "github.com/hashicorp/golang-lru"
)

type permKey struct {
	n, k int
}

// permutationCache memoizes ordered k-permutations of n indexes. Results are shared
// and must not be modified.
type permutationCache struct {
	cache *lru.Cache
	limit int
}

func newPermutationCache(size, limit int) (*permutationCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &permutationCache{cache: c, limit: limit}, nil
}

// get returns at most limit permutations of length k over n indexes, and whether the
// list was truncated.
func (p *permutationCache) get(n, k int) ([][]int, bool) {
	key := permKey{n, k}
	if v, ok := p.cache.Get(key); ok {
		e := v.(permEntry)
		return e.perms, e.truncated
	}

	var (
		out       [][]int
		truncated bool
		cur       = make([]int, 0, k)
		used      = make([]bool, n)
	)
	var walk func()
	walk = func() {
		if truncated {
			return
		}
		if len(cur) == k {
			if len(out) >= p.limit {
				truncated = true
				return
			}
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			cur = append(cur, i)
			walk()
			cur = cur[:len(cur)-1]
			used[i] = false
		}
	}
	if k > 0 && k <= n {
		walk()
	}

	p.cache.Add(key, permEntry{perms: out, truncated: truncated})
	return out, truncated
}

type permEntry struct {
	perms     [][]int
	truncated bool
}

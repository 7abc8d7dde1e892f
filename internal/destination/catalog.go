package destination

import (
	"sort"

	"github.com/gftdcojp/plot-archiver/internal/plot"
)

// Catalog is the ordered set of files on a destination that may be evicted,
// oldest first. Ties on creation time are broken by path so that eviction
// order is reproducible.
type Catalog struct {
	entries []plot.Plot
	total   int64
}

// NewCatalog builds a catalog from unordered entries.
func NewCatalog(entries []plot.Plot) *Catalog {
	sorted := make([]plot.Plot, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return older(sorted[i], sorted[j])
	})
	c := &Catalog{entries: sorted}
	for _, e := range sorted {
		c.total += e.SizeBytes
	}
	return c
}

func older(a, b plot.Plot) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Path < b.Path
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Insert adds p at its ordered position. A path already present is ignored.
func (c *Catalog) Insert(p plot.Plot) {
	for _, e := range c.entries {
		if e.Path == p.Path {
			return
		}
	}
	i := sort.Search(len(c.entries), func(i int) bool {
		return older(p, c.entries[i])
	})
	c.entries = append(c.entries, plot.Plot{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = p
	c.total += p.SizeBytes
}

// Oldest returns the entry that would be evicted next.
func (c *Catalog) Oldest() (plot.Plot, bool) {
	if len(c.entries) == 0 {
		return plot.Plot{}, false
	}
	return c.entries[0], true
}

// Remove drops the entry with the given path.
func (c *Catalog) Remove(path string) bool {
	for i, e := range c.entries {
		if e.Path == path {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			c.total -= e.SizeBytes
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// TotalBytes is the space that evicting every entry would reclaim.
func (c *Catalog) TotalBytes() int64 {
	return c.total
}

// Entries returns a copy of the entries, oldest first.
func (c *Catalog) Entries() []plot.Plot {
	out := make([]plot.Plot, len(c.entries))
	copy(out, c.entries)
	return out
}

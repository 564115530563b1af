package prefetch

import (
	"fmt"
	"sync"
)

// Payload is a decoded fetch result.
type Payload struct {
	URL         string
	ContentType string
	Kind        string // "image" or "markdown"
	Format      string // image format, or "native"/"converted" for markdown
	Width       int
	Height      int
	Markdown    string
	Data        []byte
}

// Item is one row of the collection: a resource address and, once fetched,
// its decoded result.
type Item struct {
	URL    string
	Result *Payload
}

// Loaded reports whether the item holds a result.
func (it Item) Loaded() bool {
	return it.Result != nil
}

// Collection is a fixed-length, thread-safe list of items.
type Collection struct {
	mu    sync.RWMutex
	items []Item
}

func NewCollection(urls []string) *Collection {
	items := make([]Item, len(urls))
	for i, u := range urls {
		items[i] = Item{URL: u}
	}
	return &Collection{items: items}
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns a copy of the item at index.
func (c *Collection) Get(index int) (Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.items) {
		return Item{}, fmt.Errorf("get %d of %d: %w", index, len(c.items), ErrOutOfRange)
	}
	return c.items[index], nil
}

// SetResult stores p as the result of the item at index.
func (c *Collection) SetResult(index int, p *Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.items) {
		return fmt.Errorf("set result %d of %d: %w", index, len(c.items), ErrOutOfRange)
	}
	c.items[index].Result = p
	return nil
}

// IndexesOf returns every index whose item points at url, in order.
func (c *Collection) IndexesOf(url string) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []int
	for i, it := range c.items {
		if it.URL == url {
			out = append(out, i)
		}
	}
	return out
}

// Loaded counts items that hold a result.
func (c *Collection) Loaded() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, it := range c.items {
		if it.Result != nil {
			n++
		}
	}
	return n
}

// Items returns a snapshot of the collection.
func (c *Collection) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

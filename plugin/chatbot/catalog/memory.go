package catalog

import (
	"context"
	_ "embed"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the on-disk layout of a catalog file.
type Seed struct {
	Categories []Category `yaml:"categories"`
	Products   []Product  `yaml:"products"`
}

// MemoryCatalog serves a catalog held in memory.
type MemoryCatalog struct {
	mu         sync.RWMutex
	categories []Category
	products   []Product
}

var _ Catalog = (*MemoryCatalog)(nil)

// NewMemoryCatalog creates a catalog from seed.
func NewMemoryCatalog(seed Seed) (*MemoryCatalog, error) {
	c := &MemoryCatalog{}
	if err := c.Replace(seed); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the catalog built from the bundled seed.
func Default() (*MemoryCatalog, error) {
	return Parse(defaultSeed)
}

// Load reads a YAML seed file.
func Load(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read catalog %s", path)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML seed bytes.
func Parse(data []byte) (*MemoryCatalog, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, errors.Wrap(err, "failed to parse catalog")
	}
	return NewMemoryCatalog(seed)
}

// Replace swaps the whole catalog after validating it.
func (c *MemoryCatalog) Replace(seed Seed) error {
	names := make(map[int64]string, len(seed.Categories))
	for _, cat := range seed.Categories {
		if _, dup := names[cat.ID]; dup {
			return errors.Errorf("duplicate category id %d", cat.ID)
		}
		names[cat.ID] = cat.Name
	}

	products := make([]Product, 0, len(seed.Products))
	seen := make(map[int64]bool, len(seed.Products))
	for _, p := range seed.Products {
		if seen[p.ID] {
			return errors.Errorf("duplicate product id %d", p.ID)
		}
		seen[p.ID] = true
		if p.CategoryID != 0 {
			name, ok := names[p.CategoryID]
			if !ok {
				return errors.Errorf("product %d references unknown category %d", p.ID, p.CategoryID)
			}
			p.CategoryName = name
		}
		if p.Unit == "" {
			p.Unit = "pc"
		}
		products = append(products, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories = slices.Clone(seed.Categories)
	c.products = products
	return nil
}

// Upsert inserts or replaces one product.
func (c *MemoryCatalog) Upsert(p Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.CategoryID != 0 {
		idx := slices.IndexFunc(c.categories, func(cat Category) bool { return cat.ID == p.CategoryID })
		if idx < 0 {
			return errors.Errorf("unknown category %d", p.CategoryID)
		}
		p.CategoryName = c.categories[idx].Name
	}
	if p.Unit == "" {
		p.Unit = "pc"
	}
	if idx := slices.IndexFunc(c.products, func(q Product) bool { return q.ID == p.ID }); idx >= 0 {
		c.products[idx] = p
		return nil
	}
	c.products = append(c.products, p)
	return nil
}

// Remove deletes a product. It reports whether the product existed.
func (c *MemoryCatalog) Remove(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.products)
	c.products = slices.DeleteFunc(c.products, func(p Product) bool { return p.ID == id })
	return len(c.products) != n
}

// Products returns the products matching filter in catalog order.
func (c *MemoryCatalog) Products(ctx context.Context, filter Filter) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []Product{}
	for _, p := range c.products {
		if filter.ProductID != 0 && p.ID != filter.ProductID {
			continue
		}
		if filter.CategoryID != 0 && p.CategoryID != filter.CategoryID {
			continue
		}
		if search != "" && !matches(p, search) {
			continue
		}
		out = append(out, p)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Categories returns every category with its product count.
func (c *MemoryCatalog) Categories(ctx context.Context) ([]Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[int64]int, len(c.categories))
	for _, p := range c.products {
		counts[p.CategoryID]++
	}
	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		cat.ProductCount = counts[cat.ID]
		out[i] = cat
	}
	return out, nil
}

func matches(p Product, search string) bool {
	return strings.Contains(strings.ToLower(p.Name), search) ||
		strings.Contains(strings.ToLower(p.Description), search) ||
		strings.Contains(strings.ToLower(p.CategoryName), search)
}

package devapi

import (
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Product is a catalog entry.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"createdAt"`
}

// Catalog is an in-memory product list.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]Product
	skus  map[string]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{items: map[string]Product{}, skus: map[string]string{}}
}

// validate returns field errors for p.
func (c *Catalog) validate(p Product) []fieldError {
	var out []fieldError
	if p.Name == "" {
		out = append(out, fieldError{Field: "name", Message: "must not be empty"})
	}
	if p.SKU == "" {
		out = append(out, fieldError{Field: "sku", Message: "must not be empty"})
	}
	if p.Price <= 0 {
		out = append(out, fieldError{Field: "price", Message: "must be positive"})
	}
	if p.Stock < 0 {
		out = append(out, fieldError{Field: "stock", Message: "must not be negative"})
	}
	return out
}

// Add stores p and reports false when its SKU already exists.
func (c *Catalog) Add(p Product) (Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.skus[p.SKU]; dup {
		return Product{}, false
	}
	p.ID = uuid.Must(uuid.NewV4()).String()
	p.CreatedAt = time.Now().UTC()
	c.items[p.ID] = p
	c.skus[p.SKU] = p.ID
	return p, true
}

// List returns products ordered by name.
func (c *Catalog) List() []Product {
	c.mu.RLock()
	out := make([]Product, 0, len(c.items))
	for _, p := range c.items {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

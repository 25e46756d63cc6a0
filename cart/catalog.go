package cart

import (
	"context"
	"fmt"
)

// Catalog resolves products for the cart.
type Catalog interface {
	Product(ctx context.Context, productID string) (Product, error)
}

// StaticCatalog is an in-memory product table.
type StaticCatalog map[string]Product

func NewStaticCatalog(products ...Product) StaticCatalog {
	c := make(StaticCatalog, len(products))
	for _, p := range products {
		c[p.ID] = p
	}
	return c
}

func (c StaticCatalog) Product(_ context.Context, productID string) (Product, error) {
	p, ok := c[productID]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return p, nil
}

// Package catalog is the read-only product and category source consulted by
// chatbot commands.
package catalog

import (
	"context"
)

// Product is a purchasable item.
type Product struct {
	ID            int64              `json:"id" yaml:"id"`
	Name          string             `json:"name" yaml:"name"`
	Description   string             `json:"description" yaml:"description"`
	Price         float64            `json:"price" yaml:"price"`
	Unit          string             `json:"unit" yaml:"unit"`
	CategoryID    int64              `json:"category_id" yaml:"category_id"`
	CategoryName  string             `json:"category_name" yaml:"-"`
	SupplierName  string             `json:"supplier_name" yaml:"supplier"`
	StockQuantity int                `json:"stock_quantity" yaml:"stock_quantity"`
	ImageURL      string             `json:"image_url" yaml:"image_url"`
	IsFeatured    bool               `json:"is_featured" yaml:"is_featured"`
	Dimensions    map[string]float64 `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// Category groups products. ProductCount is filled in by Categories.
type Category struct {
	ID           int64  `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Slug         string `json:"slug" yaml:"slug"`
	Description  string `json:"description" yaml:"description"`
	ParentID     *int64 `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	ProductCount int    `json:"product_count" yaml:"-"`
}

// Filter narrows a product query. Zero values mean "any".
type Filter struct {
	Search     string
	CategoryID int64
	ProductID  int64
	Limit      int
}

// Catalog is the contract commands use to read products and categories.
type Catalog interface {
	Products(ctx context.Context, filter Filter) ([]Product, error)
	Categories(ctx context.Context) ([]Category, error)
}

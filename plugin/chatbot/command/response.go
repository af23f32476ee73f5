package command

import (
	"fmt"

	"github.com/hrygo/construkt/plugin/chatbot/calculator"
	"github.com/hrygo/construkt/plugin/chatbot/catalog"
)

// Response types returned by HandleCommand.
const (
	TypeProducts          = "products"
	TypeCategories        = "categories"
	TypeProductDetail     = "product_detail"
	TypeSearchPrompt      = "search_prompt"
	TypeNoResults         = "no_results"
	TypeNotFound          = "not_found"
	TypeCalculatorOptions = "calculator_options"
	TypeCalculatorInput   = "calculator_input"
	TypeCalculatorResult  = "calculator_result"
	TypeHelp              = "help"
	TypePopularSearches   = "popular_searches"
	TypeWelcome           = "welcome"
	TypeError             = "error"
)

// PopularSearches are the quick search terms offered to users.
var PopularSearches = []string{
	"Nails", "Cement", "Bricks", "Paint", "Tiles",
	"Lumber", "Tools", "Drywall", "Insulation", "Roofing",
}

// Action is a follow-up the client may offer as a button.
type Action struct {
	Type   string         `json:"type"`
	Label  string         `json:"label"`
	Params map[string]any `json:"params,omitempty"`
}

// Info describes one command in help and welcome panels.
type Info struct {
	Command     string `json:"command"`
	Icon        string `json:"icon"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Response is the envelope every command returns, whichever arm produced it.
type Response struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Items   any      `json:"items,omitempty"`
	Actions []Action `json:"actions"`

	Commands        []Info              `json:"commands,omitempty"`
	PopularSearches []string            `json:"popular_searches,omitempty"`
	Keyword         string              `json:"keyword,omitempty"`
	Suggestions     []string            `json:"suggestions,omitempty"`
	Options         []calculator.Option `json:"options,omitempty"`
	Result          *CalculationResult  `json:"result,omitempty"`
	RequiredFields  []string            `json:"required_fields,omitempty"`
	MaterialType    string              `json:"material_type,omitempty"`
	Searches        []string            `json:"searches,omitempty"`
	Product         *ProductDetail      `json:"product,omitempty"`
	Related         []ProductItem       `json:"related,omitempty"`
	Category        string              `json:"category,omitempty"`
}

// ProductItem is the list form of a product.
type ProductItem struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Price         string  `json:"price"`
	PriceRaw      float64 `json:"price_raw"`
	Unit          string  `json:"unit"`
	Category      string  `json:"category"`
	Supplier      string  `json:"supplier"`
	InStock       bool    `json:"in_stock"`
	StockQuantity int     `json:"stock_quantity"`
	Thumbnail     string  `json:"thumbnail"`
	Link          string  `json:"link"`
}

// ProductDetail is the full form of a product.
type ProductDetail struct {
	ProductItem
	CategoryID int64              `json:"category_id"`
	Dimensions map[string]float64 `json:"dimensions"`
	IsFeatured bool               `json:"is_featured"`
}

// CategoryItem is the list form of a category.
type CategoryItem struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Description  string `json:"description"`
	ProductCount int    `json:"product_count"`
	Link         string `json:"link"`
}

// CalculationResult is the payload of a calculator_result envelope.
type CalculationResult struct {
	Value        float64         `json:"value"`
	Unit         string          `json:"unit"`
	Dimensions   map[string]any  `json:"dimensions"`
	MaterialType calculator.Kind `json:"material_type"`
	Product      *ProductDetail  `json:"product,omitempty"`
	TotalCost    *float64        `json:"total_cost,omitempty"`
}

const descriptionPreview = 100

func formatProduct(p catalog.Product) ProductItem {
	desc := p.Description
	if len(desc) > descriptionPreview {
		desc = desc[:descriptionPreview] + "..."
	}
	item := formatProductFull(p)
	item.Description = desc
	return item
}

func formatProductFull(p catalog.Product) ProductItem {
	return ProductItem{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         fmt.Sprintf("$%.2f", p.Price),
		PriceRaw:      p.Price,
		Unit:          p.Unit,
		Category:      p.CategoryName,
		Supplier:      p.SupplierName,
		InStock:       p.StockQuantity > 0,
		StockQuantity: max(p.StockQuantity, 0),
		Thumbnail:     p.ImageURL,
		Link:          fmt.Sprintf("/products/%d", p.ID),
	}
}

func formatProducts(products []catalog.Product) []ProductItem {
	items := make([]ProductItem, 0, len(products))
	for _, p := range products {
		items = append(items, formatProduct(p))
	}
	return items
}

func formatDetail(p catalog.Product) *ProductDetail {
	dims := p.Dimensions
	if dims == nil {
		dims = map[string]float64{}
	}
	return &ProductDetail{
		ProductItem: formatProductFull(p),
		CategoryID:  p.CategoryID,
		Dimensions:  dims,
		IsFeatured:  p.IsFeatured,
	}
}

func formatCategory(c catalog.Category) CategoryItem {
	return CategoryItem{
		ID:           c.ID,
		Name:         c.Name,
		Slug:         c.Slug,
		Description:  c.Description,
		ProductCount: c.ProductCount,
		Link:         fmt.Sprintf("/products?category=%d", c.ID),
	}
}

func errorResponse(msg string) *Response {
	return &Response{
		Type:    TypeError,
		Message: msg,
		Actions: []Action{
			{Type: Help, Label: "Get Help"},
			{Type: Search, Label: "Search Products"},
		},
	}
}

package command

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/construkt/plugin/chatbot/calculator"
	"github.com/hrygo/construkt/plugin/chatbot/catalog"
)

// Command names. Anything else is answered like Help.
const (
	Search        = "SEARCH"
	Categories    = "CATEGORIES"
	Category      = "CATEGORY"
	Product       = "PRODUCT"
	Cheapest      = "CHEAPEST"
	Expensive     = "EXPENSIVE"
	Featured      = "FEATURED"
	Calculator    = "CALCULATOR"
	Help          = "HELP"
	PopularSearch = "POPULAR_SEARCHES"
)

// rankingPoolSize bounds how many products price ranking considers.
const rankingPoolSize = 100

type handlerFunc func(ctx context.Context, params map[string]any) (*Response, error)

func (d *Dispatcher) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		Search:        d.search,
		Categories:    d.categories,
		Category:      d.category,
		Product:       d.product,
		Cheapest:      d.cheapest,
		Expensive:     d.expensive,
		Featured:      d.featured,
		Calculator:    d.calculate,
		Help:          d.help,
		PopularSearch: d.popularSearches,
	}
}

// Known reports whether name is part of the command vocabulary.
func Known(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case Search, Categories, Category, Product, Cheapest, Expensive, Featured, Calculator, Help, PopularSearch:
		return true
	}
	return false
}

// HandleCommand runs one structured command and records the exchange in the
// owner's history. It never fails: collaborator errors become an error
// envelope and unknown names get the help envelope.
func (d *Dispatcher) HandleCommand(ctx context.Context, ownerID, name string, params map[string]any) *Response {
	name = strings.ToUpper(strings.TrimSpace(name))
	if params == nil {
		params = map[string]any{}
	}

	handler, ok := d.handlers()[name]
	if !ok {
		slog.Debug("unknown command, answering with help", "command", name, "owner_id", ownerID)
		handler = d.help
	}

	resp, err := handler(ctx, params)
	if err != nil {
		slog.Error("command failed", "command", name, "owner_id", ownerID, "error", err)
		resp = errorResponse("Sorry, I could not process that command. Please try again.")
	}

	d.record(ctx, ownerID, commandLabel(name, params), true, map[string]any{
		"command": name,
		"params":  params,
	})
	d.record(ctx, ownerID, resp.Message, false, map[string]any{
		"command":  name,
		"type":     resp.Type,
		"response": resp,
	})
	return resp
}

func (d *Dispatcher) search(ctx context.Context, params map[string]any) (*Response, error) {
	keyword := strings.TrimSpace(paramString(params, "keyword"))
	limit := paramLimit(params, 10)

	if keyword == "" {
		return &Response{
			Type:            TypeSearchPrompt,
			Message:         "What are you looking for?",
			PopularSearches: slices.Clone(PopularSearches),
			Actions: []Action{
				{Type: Categories, Label: "Browse Categories"},
				{Type: Featured, Label: "Popular Products"},
			},
		}, nil
	}

	products, err := d.catalog.Products(ctx, catalog.Filter{Search: keyword, Limit: limit})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search products")
	}
	if len(products) == 0 {
		return &Response{
			Type:        TypeNoResults,
			Message:     fmt.Sprintf("No products found for %q.", keyword),
			Keyword:     keyword,
			Suggestions: suggestions(keyword),
			Actions: []Action{
				{Type: Search, Label: "Try Another Search"},
				{Type: Categories, Label: "Browse Categories"},
			},
		}, nil
	}

	return &Response{
		Type:    TypeProducts,
		Message: fmt.Sprintf("Found %d products for %q:", len(products), keyword),
		Keyword: keyword,
		Items:   formatProducts(products),
		Actions: []Action{
			{Type: Search, Label: "Search Again"},
			{Type: Categories, Label: "Browse Categories"},
		},
	}, nil
}

func (d *Dispatcher) categories(ctx context.Context, _ map[string]any) (*Response, error) {
	categories, err := d.catalog.Categories(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list categories")
	}

	items := []CategoryItem{}
	for _, c := range categories {
		if c.ParentID == nil || c.ProductCount > 0 {
			items = append(items, formatCategory(c))
		}
	}
	if len(items) == 0 {
		return errorResponse("No categories found"), nil
	}

	return &Response{
		Type:    TypeCategories,
		Message: "Browse our product categories:",
		Items:   items,
		Actions: []Action{
			{Type: Search, Label: "Search Products"},
			{Type: Featured, Label: "Popular Products"},
		},
	}, nil
}

func (d *Dispatcher) category(ctx context.Context, params map[string]any) (*Response, error) {
	categoryID := int64(paramInt(params, "category_id", 0))
	if categoryID == 0 {
		return d.categories(ctx, params)
	}

	products, err := d.catalog.Products(ctx, catalog.Filter{CategoryID: categoryID, Limit: paramLimit(params, 10)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list category products")
	}
	name, err := d.categoryName(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "Category"
	}

	actions := []Action{
		{Type: Categories, Label: "Other Categories"},
		{Type: Search, Label: "Search Products"},
	}
	if len(products) == 0 {
		return &Response{
			Type:    TypeNoResults,
			Message: fmt.Sprintf("No products found in %s.", name),
			Actions: actions,
		}, nil
	}
	return &Response{
		Type:     TypeProducts,
		Message:  fmt.Sprintf("%s (%d products):", name, len(products)),
		Category: name,
		Items:    formatProducts(products),
		Actions:  actions,
	}, nil
}

func (d *Dispatcher) product(ctx context.Context, params map[string]any) (*Response, error) {
	productID := int64(paramInt(params, "product_id", 0))
	if productID == 0 {
		return errorResponse("Product ID is required"), nil
	}

	found, err := d.catalog.Products(ctx, catalog.Filter{ProductID: productID, Limit: 1})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load product")
	}
	if len(found) == 0 {
		return &Response{
			Type:    TypeNotFound,
			Message: "Product not found.",
			Actions: []Action{
				{Type: Search, Label: "Search Products"},
				{Type: Categories, Label: "Browse Categories"},
			},
		}, nil
	}
	p := found[0]

	related := []catalog.Product{}
	if p.CategoryID != 0 {
		siblings, err := d.catalog.Products(ctx, catalog.Filter{CategoryID: p.CategoryID, Limit: 4})
		if err != nil {
			return nil, errors.Wrap(err, "failed to load related products")
		}
		for _, s := range siblings {
			if s.ID != p.ID && len(related) < 3 {
				related = append(related, s)
			}
		}
	}

	return &Response{
		Type:    TypeProductDetail,
		Message: p.Name,
		Product: formatDetail(p),
		Related: formatProducts(related),
		Actions: []Action{
			{Type: Category, Label: "More in Category", Params: map[string]any{"category_id": p.CategoryID}},
			{Type: Search, Label: "Search Products"},
		},
	}, nil
}

func (d *Dispatcher) cheapest(ctx context.Context, params map[string]any) (*Response, error) {
	return d.ranked(ctx, params, false)
}

func (d *Dispatcher) expensive(ctx context.Context, params map[string]any) (*Response, error) {
	return d.ranked(ctx, params, true)
}

// ranked lists products by price, optionally within one category.
func (d *Dispatcher) ranked(ctx context.Context, params map[string]any, descending bool) (*Response, error) {
	categoryID := int64(paramInt(params, "category_id", 0))
	limit := paramLimit(params, 5)

	products, err := d.catalog.Products(ctx, catalog.Filter{CategoryID: categoryID, Limit: rankingPoolSize})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	if len(products) == 0 {
		return &Response{
			Type:    TypeNoResults,
			Message: "No products found.",
			Actions: []Action{{Type: Categories, Label: "Browse Categories"}},
		}, nil
	}

	slices.SortStableFunc(products, func(a, b catalog.Product) int {
		if descending {
			a, b = b, a
		}
		switch {
		case a.Price < b.Price:
			return -1
		case a.Price > b.Price:
			return 1
		}
		return 0
	})
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}

	message := "Cheapest products"
	actions := []Action{
		{Type: Expensive, Label: "Most Expensive"},
		{Type: Categories, Label: "Browse Categories"},
	}
	if descending {
		message = "Most expensive products"
		actions[0] = Action{Type: Cheapest, Label: "Cheapest"}
	}
	if categoryID != 0 {
		name, err := d.categoryName(ctx, categoryID)
		if err != nil {
			return nil, err
		}
		if name != "" && descending {
			message = "Premium in " + name
		} else if name != "" {
			message = "Cheapest in " + name
		}
	}

	return &Response{
		Type:    TypeProducts,
		Message: message + ":",
		Items:   formatProducts(products),
		Actions: actions,
	}, nil
}

func (d *Dispatcher) featured(ctx context.Context, params map[string]any) (*Response, error) {
	limit := paramLimit(params, 6)

	products, err := d.catalog.Products(ctx, catalog.Filter{Limit: rankingPoolSize})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}

	var picked []catalog.Product
	for _, p := range products {
		if p.IsFeatured && len(picked) < limit {
			picked = append(picked, p)
		}
	}
	for _, p := range products {
		if !p.IsFeatured && len(picked) < limit {
			picked = append(picked, p)
		}
	}

	return &Response{
		Type:    TypeProducts,
		Message: "Popular products:",
		Items:   formatProducts(picked),
		Actions: []Action{
			{Type: Search, Label: "Search Products"},
			{Type: Categories, Label: "Browse Categories"},
		},
	}, nil
}

func (d *Dispatcher) calculate(ctx context.Context, params map[string]any) (*Response, error) {
	kind := calculator.Kind(strings.ToLower(paramString(params, "material_type")))
	if kind == "" {
		kind = calculator.Kind(strings.ToLower(paramString(params, "type")))
	}
	if kind == "" {
		return &Response{
			Type:    TypeCalculatorOptions,
			Message: "Choose calculation type:",
			Options: calculator.Options(),
			Actions: []Action{
				{Type: Search, Label: "Search Products"},
				{Type: Help, Label: "Help"},
			},
		}, nil
	}

	dims, _ := params["dimensions"].(map[string]any)
	if dims == nil {
		dims = map[string]any{}
	}
	missing, err := calculator.Missing(kind, dims)
	if err != nil {
		return errorResponse(fmt.Sprintf("Unknown calculation type %q", kind)), nil
	}
	if len(missing) > 0 {
		required, _ := calculator.Required(kind)
		message := fmt.Sprintf("Enter dimensions for %s calculation:", kind)
		if kind == calculator.Linear {
			message = "Enter length:"
		}
		return &Response{
			Type:           TypeCalculatorInput,
			Message:        message,
			MaterialType:   string(kind),
			RequiredFields: required,
			Actions:        []Action{{Type: Calculator, Label: "Cancel"}},
		}, nil
	}

	result, err := calculator.Compute(kind, dims)
	if err != nil {
		return errorResponse("Invalid dimensions: " + err.Error()), nil
	}

	resp := &Response{
		Type:    TypeCalculatorResult,
		Message: fmt.Sprintf("Calculation result: %.2f %s", result.Value, result.Unit),
		Result: &CalculationResult{
			Value:        result.Value,
			Unit:         result.Unit,
			Dimensions:   dims,
			MaterialType: kind,
		},
		Actions: []Action{
			{Type: Search, Label: "Find Materials"},
			{Type: Calculator, Label: "New Calculation"},
		},
	}

	if productID := int64(paramInt(params, "product_id", 0)); productID != 0 {
		found, err := d.catalog.Products(ctx, catalog.Filter{ProductID: productID, Limit: 1})
		if err != nil {
			return nil, errors.Wrap(err, "failed to load product")
		}
		if len(found) > 0 {
			total := calculator.Round(result.Value * found[0].Price)
			if math.IsInf(total, 0) {
				return errorResponse("Invalid dimensions: " + calculator.ErrOutOfRange.Error()), nil
			}
			resp.Result.Product = formatDetail(found[0])
			resp.Result.TotalCost = &total
			resp.Message = fmt.Sprintf("You need %.2f %s = $%.2f", result.Value, result.Unit, total)
		}
	}
	return resp, nil
}

func (d *Dispatcher) help(context.Context, map[string]any) (*Response, error) {
	return &Response{
		Type:    TypeHelp,
		Message: "How can I help you?",
		Commands: []Info{
			{Command: Search, Icon: "🔍", Label: "Search", Description: "Find products by name"},
			{Command: Categories, Icon: "📦", Label: "Categories", Description: "Browse by category"},
			{Command: Featured, Icon: "⭐", Label: "Popular", Description: "Top products"},
			{Command: Cheapest, Icon: "💰", Label: "Budget", Description: "Lowest prices"},
			{Command: Calculator, Icon: "📐", Label: "Calculator", Description: "Calculate materials"},
		},
		Actions: []Action{
			{Type: Search, Label: "Start Searching"},
			{Type: Categories, Label: "Browse Categories"},
		},
	}, nil
}

func (d *Dispatcher) popularSearches(context.Context, map[string]any) (*Response, error) {
	return &Response{
		Type:     TypePopularSearches,
		Message:  "Popular searches:",
		Searches: slices.Clone(PopularSearches),
		Actions: []Action{
			{Type: Search, Label: "Custom Search"},
			{Type: Categories, Label: "Browse Categories"},
		},
	}, nil
}

func (d *Dispatcher) categoryName(ctx context.Context, id int64) (string, error) {
	categories, err := d.catalog.Categories(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to list categories")
	}
	for _, c := range categories {
		if c.ID == id {
			return c.Name, nil
		}
	}
	return "", nil
}

// suggestions offers popular terms related to a keyword with no results.
func suggestions(keyword string) []string {
	keyword = strings.ToLower(keyword)
	var out []string
	for _, term := range PopularSearches {
		t := strings.ToLower(term)
		if strings.Contains(t, keyword) || strings.Contains(keyword, t) {
			out = append(out, term)
		}
	}
	if len(out) == 0 {
		out = slices.Clone(PopularSearches[:3])
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// commandLabel is the user bubble text recorded for a command.
func commandLabel(name string, params map[string]any) string {
	switch name {
	case Search:
		if kw := paramString(params, "keyword"); kw != "" {
			return "Search: " + kw
		}
	case Calculator:
		if kind := paramString(params, "material_type"); kind != "" {
			return "Calculator: " + kind
		}
	}
	if name == "" {
		return Help
	}
	return name
}

func paramString(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// maxParamInt bounds integer parameters so float conversion stays defined.
const maxParamInt = math.MaxInt32

// paramLimit reads the "limit" parameter, capped at rankingPoolSize.
func paramLimit(params map[string]any, def int) int {
	return min(paramInt(params, "limit", def), rankingPoolSize)
}

// paramInt reads an integer parameter that may arrive as a JSON number or
// a numeric string. Non-positive, oversized or unparsable values yield def.
func paramInt(params map[string]any, key string, def int) int {
	var n int
	switch v := params[key].(type) {
	case float64:
		if math.IsNaN(v) || v > maxParamInt {
			return def
		}
		n = int(v)
	case int:
		n = v
	case int64:
		if v > maxParamInt {
			return def
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		n = parsed
	default:
		return def
	}
	if n <= 0 || n > maxParamInt {
		return def
	}
	return n
}

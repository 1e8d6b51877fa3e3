// Package inventory exposes live ingredient availability to the ordering
// engine. Validity checks for coffee type, milk, and sweetener are driven by
// stock levels so the dialogue never offers something the stations ran out of.
package inventory

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/brewtap/brewtap/internal/models"
)

// Ingredient categories recognized by the catalog.
const (
	CategoryCoffee    = "coffee"
	CategoryMilk      = "milk"
	CategorySweetener = "sweetener"
	CategorySize      = "size"
)

// Catalog answers availability queries for order validation and menus.
type Catalog interface {
	AvailableCoffeeTypes() []string
	AvailableMilkTypes() []string
	AvailableSweeteners() []string
	AvailableSizes(coffeeType string) []string

	// IsCoffeeTypeAvailable and friends use case-insensitive partial
	// matching: the customer's text only has to contain a stocked option.
	// On a hit they return the canonical name.
	IsCoffeeTypeAvailable(text string) (string, bool)
	IsMilkAvailable(text string) (string, bool)
	IsSweetenerAvailable(text string) (string, bool)
}

// ingredientLister is the slice of the store the catalog needs.
type ingredientLister interface {
	ListIngredients() ([]models.Ingredient, error)
}

// StoreCatalog derives availability from the ingredients table on every
// query, so restocks and sell-outs apply immediately.
type StoreCatalog struct {
	store ingredientLister
}

// NewStoreCatalog creates a catalog backed by the given store.
func NewStoreCatalog(st ingredientLister) *StoreCatalog {
	return &StoreCatalog{store: st}
}

func (c *StoreCatalog) inStock(category string) []string {
	ingredients, err := c.store.ListIngredients()
	if err != nil {
		slog.Error("StoreCatalog failed to list ingredients", "error", err, "category", category)
		return nil
	}
	var out []string
	for _, ing := range ingredients {
		if ing.Category == category && ing.Stock > 0 {
			out = append(out, strings.ToLower(ing.Name))
		}
	}
	sort.Strings(out)
	return out
}

func (c *StoreCatalog) AvailableCoffeeTypes() []string { return c.inStock(CategoryCoffee) }
func (c *StoreCatalog) AvailableMilkTypes() []string   { return c.inStock(CategoryMilk) }
func (c *StoreCatalog) AvailableSweeteners() []string  { return c.inStock(CategorySweetener) }

// AvailableSizes returns stocked cup sizes. Espresso-style drinks come in a
// single size regardless of cup stock.
func (c *StoreCatalog) AvailableSizes(coffeeType string) []string {
	switch strings.ToLower(strings.TrimSpace(coffeeType)) {
	case "espresso", "macchiato", "piccolo":
		return []string{"small"}
	}
	sizes := c.inStock(CategorySize)
	if len(sizes) == 0 {
		// Sizes are not stock-tracked at every event.
		return []string{"small", "medium", "large"}
	}
	return sizes
}

func (c *StoreCatalog) IsCoffeeTypeAvailable(text string) (string, bool) {
	return matchOption(text, c.AvailableCoffeeTypes())
}

func (c *StoreCatalog) IsMilkAvailable(text string) (string, bool) {
	return matchOption(text, c.AvailableMilkTypes())
}

func (c *StoreCatalog) IsSweetenerAvailable(text string) (string, bool) {
	return matchOption(text, c.AvailableSweeteners())
}

// matchOption finds an option the text refers to, case-insensitively and by
// partial match in either direction ("capp" matches "cappuccino", "oat milk
// please" matches "oat").
func matchOption(text string, options []string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, opt := range options {
		if strings.Contains(lower, opt) {
			return opt, true
		}
	}
	// Allow abbreviated input, minimum three characters to avoid noise.
	if len(lower) >= 3 {
		for _, opt := range options {
			if strings.HasPrefix(opt, lower) {
				return opt, true
			}
		}
	}
	return "", false
}

// StaticCatalog is a fixed-vocabulary catalog used by tests and by events
// that do not track ingredient stock.
type StaticCatalog struct {
	CoffeeTypes []string
	MilkTypes   []string
	Sweeteners  []string
	Sizes       []string
}

// NewDefaultStaticCatalog returns a catalog with the standard event menu.
func NewDefaultStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		CoffeeTypes: []string{"latte", "cappuccino", "flat white", "long black", "espresso", "mocha", "hot chocolate", "chai latte"},
		MilkTypes:   []string{"full cream", "skim", "oat", "soy", "almond", "lactose free"},
		Sweeteners:  []string{"sugar", "honey", "stevia", "sweetener"},
		Sizes:       []string{"small", "medium", "large"},
	}
}

func (c *StaticCatalog) AvailableCoffeeTypes() []string { return c.CoffeeTypes }
func (c *StaticCatalog) AvailableMilkTypes() []string   { return c.MilkTypes }
func (c *StaticCatalog) AvailableSweeteners() []string  { return c.Sweeteners }

func (c *StaticCatalog) AvailableSizes(coffeeType string) []string {
	switch strings.ToLower(strings.TrimSpace(coffeeType)) {
	case "espresso", "macchiato", "piccolo":
		return []string{"small"}
	}
	return c.Sizes
}

func (c *StaticCatalog) IsCoffeeTypeAvailable(text string) (string, bool) {
	return matchOption(text, c.CoffeeTypes)
}

func (c *StaticCatalog) IsMilkAvailable(text string) (string, bool) {
	return matchOption(text, c.MilkTypes)
}

func (c *StaticCatalog) IsSweetenerAvailable(text string) (string, bool) {
	return matchOption(text, c.Sweeteners)
}

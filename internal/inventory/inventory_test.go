package inventory

import (
	"reflect"
	"testing"

	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/store"
)

func TestMatchOption(t *testing.T) {
	options := []string{"cappuccino", "flat white", "latte", "oat"}
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"latte", "latte", true},
		{"LATTE please", "latte", true},
		{"a flat white thanks", "flat white", true},
		{"capp", "cappuccino", true},
		{"oat milk", "oat", true},
		{"ca", "", false},
		{"tea", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := matchOption(c.text, options)
		if got != c.want || ok != c.ok {
			t.Errorf("matchOption(%q) = (%q, %v), want (%q, %v)", c.text, got, ok, c.want, c.ok)
		}
	}
}

func TestStaticCatalogEspressoSizes(t *testing.T) {
	c := NewDefaultStaticCatalog()
	if got := c.AvailableSizes("Espresso"); !reflect.DeepEqual(got, []string{"small"}) {
		t.Errorf("espresso sizes = %v, want [small]", got)
	}
	if got := c.AvailableSizes("latte"); !reflect.DeepEqual(got, []string{"small", "medium", "large"}) {
		t.Errorf("latte sizes = %v", got)
	}
}

func TestStoreCatalogStockDriven(t *testing.T) {
	s := store.NewInMemoryStore()
	s.SaveIngredient(models.Ingredient{Name: "Latte", Category: CategoryCoffee, Stock: 5})
	s.SaveIngredient(models.Ingredient{Name: "Mocha", Category: CategoryCoffee, Stock: 0})
	s.SaveIngredient(models.Ingredient{Name: "Oat", Category: CategoryMilk, Stock: 2})

	c := NewStoreCatalog(s)

	if got := c.AvailableCoffeeTypes(); !reflect.DeepEqual(got, []string{"latte"}) {
		t.Errorf("coffee types = %v, want [latte]", got)
	}
	if _, ok := c.IsCoffeeTypeAvailable("mocha"); ok {
		t.Error("out-of-stock mocha should be unavailable")
	}
	if name, ok := c.IsMilkAvailable("oat milk please"); !ok || name != "oat" {
		t.Errorf("IsMilkAvailable = (%q, %v)", name, ok)
	}

	// Restock applies on the next query.
	s.SaveIngredient(models.Ingredient{Name: "Mocha", Category: CategoryCoffee, Stock: 3})
	if name, ok := c.IsCoffeeTypeAvailable("mocha"); !ok || name != "mocha" {
		t.Errorf("restocked mocha = (%q, %v)", name, ok)
	}
}

func TestStoreCatalogSizeFallback(t *testing.T) {
	s := store.NewInMemoryStore()
	s.SaveIngredient(models.Ingredient{Name: "Latte", Category: CategoryCoffee, Stock: 5})
	c := NewStoreCatalog(s)

	// No size-tracked stock at this event.
	if got := c.AvailableSizes("latte"); !reflect.DeepEqual(got, []string{"small", "medium", "large"}) {
		t.Errorf("size fallback = %v", got)
	}
	s.SaveIngredient(models.Ingredient{Name: "Large", Category: CategorySize, Stock: 40})
	if got := c.AvailableSizes("latte"); !reflect.DeepEqual(got, []string{"large"}) {
		t.Errorf("tracked sizes = %v", got)
	}
}

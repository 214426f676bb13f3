package dice

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is one die definition as stored in a catalog file.
type CatalogEntry struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Weights     [6]float64 `yaml:"weights"`
}

type catalogFile struct {
	Dice []CatalogEntry `yaml:"dice"`
}

// Catalog is a read-only index of dice by ID.
//
// Invariant: every die in the catalog passed NewDie validation; IDs are unique.
type Catalog struct {
	dice  map[string]*Die
	order []string
}

// NewCatalog builds a Catalog from entries.
//
// Postcondition: Returns an error naming the first invalid or duplicate entry.
func NewCatalog(entries []CatalogEntry) (*Catalog, error) {
	c := &Catalog{dice: make(map[string]*Die, len(entries))}
	for _, e := range entries {
		if _, dup := c.dice[e.ID]; dup {
			return nil, fmt.Errorf("dice.Catalog: duplicate die ID %q", e.ID)
		}
		d, err := NewDie(e.ID, e.Name, e.Weights)
		if err != nil {
			return nil, fmt.Errorf("dice.Catalog: %w", err)
		}
		d.Description = e.Description
		c.dice[e.ID] = d
		c.order = append(c.order, e.ID)
	}
	return c, nil
}

// LoadCatalog reads a YAML die catalog with a top-level "dice" list.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a Catalog or a non-nil error.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog file %s: %w", path, err)
	}
	return NewCatalog(f.Dice)
}

// Get returns the die with the given ID.
func (c *Catalog) Get(id string) (*Die, bool) {
	d, ok := c.dice[id]
	return d, ok
}

// All returns the catalog's dice in file order.
func (c *Catalog) All() []*Die {
	out := make([]*Die, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.dice[id])
	}
	return out
}

// Len returns the number of dice in the catalog.
func (c *Catalog) Len() int { return len(c.order) }

// PoolOf resolves six die IDs into a Pool.
//
// Postcondition: Returns ErrInvalidPoolSize if len(ids) != PoolSize, or an
// error naming the first unknown ID.
func (c *Catalog) PoolOf(ids []string) (*Pool, error) {
	if len(ids) != PoolSize {
		return nil, fmt.Errorf("%w: want %d dice, got %d", ErrInvalidPoolSize, PoolSize, len(ids))
	}
	dice := make([]*Die, 0, PoolSize)
	for _, id := range ids {
		d, ok := c.dice[id]
		if !ok {
			return nil, fmt.Errorf("dice.Catalog: unknown die %q", id)
		}
		dice = append(dice, d)
	}
	return NewPool(dice)
}

// Inventory maps die ID to the quantity owned.
type Inventory map[string]int

type inventoryFile struct {
	Inventory map[string]int `yaml:"inventory"`
}

// LoadInventory reads a YAML inventory ("inventory: {die_id: qty}") and
// validates it against catalog.
//
// Precondition: catalog must be non-nil.
// Postcondition: Returns an Inventory containing only positive quantities of
// known dice, or a non-nil error.
func LoadInventory(path string, catalog *Catalog) (Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f inventoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing inventory file %s: %w", path, err)
	}
	inv := Inventory(f.Inventory)
	if err := inv.Validate(catalog); err != nil {
		return nil, err
	}
	return inv, nil
}

// Validate checks every entry references a catalog die with a non-negative quantity.
func (inv Inventory) Validate(catalog *Catalog) error {
	for _, id := range inv.IDs() {
		if _, ok := catalog.Get(id); !ok {
			return fmt.Errorf("dice.Inventory: unknown die %q", id)
		}
		if inv[id] < 0 {
			return fmt.Errorf("dice.Inventory: die %q has negative quantity %d", id, inv[id])
		}
	}
	return nil
}

// IDs returns the inventory's die IDs in sorted order.
func (inv Inventory) IDs() []string {
	ids := make([]string, 0, len(inv))
	for id := range inv {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Total returns the number of dice owned.
func (inv Inventory) Total() int {
	n := 0
	for _, q := range inv {
		if q > 0 {
			n += q
		}
	}
	return n
}

package bananomics

// CatalogItem describes one obtainable item. Weight is consumed by the
// external draw table; the engine itself only validates IDs and reports
// display names and values.
type CatalogItem struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight,omitempty"`
	Value  int64   `json:"value,omitempty"`
}

// Catalog is the set of known item IDs for validation and display.
type Catalog struct {
	items   map[string]*CatalogItem
	ordered []*CatalogItem
}

// NewCatalog builds a catalog from configured items, falling back to the
// built-in table when none are configured.
func NewCatalog(items []*CatalogItem) *Catalog {
	if len(items) == 0 {
		items = defaultCatalogItems
	}
	c := &Catalog{
		items:   make(map[string]*CatalogItem, len(items)),
		ordered: make([]*CatalogItem, 0, len(items)),
	}
	for _, item := range items {
		if item == nil || item.ID == "" {
			continue
		}
		if _, exists := c.items[item.ID]; exists {
			continue
		}
		c.items[item.ID] = item
		c.ordered = append(c.ordered, item)
	}
	return c
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.items[id]
	return ok
}

func (c *Catalog) Get(id string) *CatalogItem {
	return c.items[id]
}

// Name returns the display name for an item, or the raw ID when unknown.
func (c *Catalog) Name(id string) string {
	if item, ok := c.items[id]; ok && item.Name != "" {
		return item.Name
	}
	return id
}

func (c *Catalog) Items() []*CatalogItem {
	return c.ordered
}

var defaultCatalogItems = []*CatalogItem{
	{ID: "galaxy_banana", Name: "Galaxy Banana", Weight: 0.006, Value: 5000},
	{ID: "classic_banana", Name: "Classic Banana", Weight: 9.321, Value: 10},
	{ID: "gold_banana", Name: "Gold Banana", Weight: 8.043, Value: 18},
	{ID: "crystal_banana", Name: "Crystal Banana", Weight: 6.876, Value: 23},
	{ID: "shadow_banana", Name: "Shadow Banana", Weight: 6.232, Value: 27},
	{ID: "rainbow_banana", Name: "Rainbow Banana", Weight: 5.623, Value: 31},
	{ID: "flare_banana", Name: "Flare Banana", Weight: 5.287, Value: 34},
	{ID: "aurora_banana", Name: "Aurora Banana", Weight: 4.987, Value: 37},
	{ID: "neon_banana", Name: "Neon Banana", Weight: 4.848, Value: 40},
	{ID: "ice_banana", Name: "Ice Banana", Weight: 4.543, Value: 44},
	{ID: "fire_banana", Name: "Fire Banana", Weight: 4.321, Value: 48},
	{ID: "thunder_banana", Name: "Thunder Banana", Weight: 4.109, Value: 52},
	{ID: "wind_banana", Name: "Wind Banana", Weight: 3.987, Value: 56},
	{ID: "stone_banana", Name: "Stone Banana", Weight: 3.765, Value: 61},
	{ID: "mystic_banana", Name: "Mystic Banana", Weight: 3.543, Value: 66},
	{ID: "cyber_banana", Name: "Cyber Banana", Weight: 3.321, Value: 71},
	{ID: "honey_banana", Name: "Honey Banana", Weight: 3.109, Value: 77},
	{ID: "mint_banana", Name: "Mint Banana", Weight: 2.987, Value: 83},
	{ID: "choco_banana", Name: "Choco Banana", Weight: 2.765, Value: 90},
	{ID: "strawberry_banana", Name: "Strawberry Banana", Weight: 2.543, Value: 98},
	{ID: "vanilla_banana", Name: "Vanilla Banana", Weight: 2.321, Value: 106},
	{ID: "coconut_banana", Name: "Coconut Banana", Weight: 2.109, Value: 115},
	{ID: "spot_banana", Name: "Spot Banana", Weight: 1.987, Value: 125},
	{ID: "stripe_banana", Name: "Stripe Banana", Weight: 1.765, Value: 136},
	{ID: "leaf_banana", Name: "Leaf Banana", Weight: 1.543, Value: 148},
	{ID: "wild_banana", Name: "Wild Banana", Weight: 1.321, Value: 161},
	{ID: "shine_banana", Name: "Shine Banana", Weight: 1.109, Value: 176},
	{ID: "green_banana", Name: "Green Banana", Weight: 0.987, Value: 192},
	{ID: "brown_banana", Name: "Brown Banana", Weight: 0.765, Value: 210},
	{ID: "soft_banana", Name: "Soft Banana", Weight: 0.543, Value: 230},
	{ID: "hard_banana", Name: "Hard Banana", Weight: 0.321, Value: 260},
}

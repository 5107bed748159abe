package core

const (
	// FallbackColor is used for categories missing from the registry.
	FallbackColor = "#ccc"
	// FallbackIcon is used for categories missing from the registry.
	FallbackIcon = "📄"

	DefaultCategory = "Food"
	DefaultType     = Expense
)

// Category is a static registry entry with its display hints.
type Category struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// Registry is a read-only lookup of known categories.
// Lookups are exact and case-sensitive.
type Registry struct {
	byName map[string]Category
	order  []Category
}

var defaultCategories = []Category{
	{Name: "Food", Color: "#EF4444", Icon: "🍔"},
	{Name: "Rent", Color: "#6366F1", Icon: "🏠"},
	{Name: "Transport", Color: "#F59E0B", Icon: "🚗"},
	{Name: "Entertainment", Color: "#EC4899", Icon: "🎬"},
	{Name: "Shopping", Color: "#8B5CF6", Icon: "🛍️"},
	{Name: "Health", Color: "#10B981", Icon: "🏥"},
	{Name: "Salary", Color: "#059669", Icon: "💰"},
	{Name: "Freelance", Color: "#3B82F6", Icon: "💻"},
	{Name: "Other", Color: "#64748B", Icon: "📦"},
}

var defaultRegistry = NewRegistry(defaultCategories)

// NewRegistry builds a registry from cats. Later duplicates of a name are ignored.
func NewRegistry(cats []Category) *Registry {
	r := &Registry{
		byName: make(map[string]Category, len(cats)),
		order:  make([]Category, 0, len(cats)),
	}
	for _, c := range cats {
		if _, ok := r.byName[c.Name]; ok {
			continue
		}
		r.byName[c.Name] = c
		r.order = append(r.order, c)
	}
	return r
}

// DefaultRegistry returns the compiled-in category set.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

func (r *Registry) Lookup(name string) (Category, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// All returns the categories in display order.
func (r *Registry) All() []Category {
	return append([]Category(nil), r.order...)
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, c := range r.order {
		names[i] = c.Name
	}
	return names
}

func (r *Registry) ColorFor(name string) string {
	if c, ok := r.byName[name]; ok {
		return c.Color
	}
	return FallbackColor
}

func (r *Registry) IconFor(name string) string {
	if c, ok := r.byName[name]; ok {
		return c.Icon
	}
	return FallbackIcon
}

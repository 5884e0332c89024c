package mqtloader

import (
	"context"
	"fmt"
	"sort"

	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
)

// TypeCatalog resolves payload keys to reading_value_types ids
type TypeCatalog struct {
	ids map[string]int64
}

// LoadTypeCatalog reads the value types once. aliases maps extra payload keys
// onto existing type names (temp -> temperature); aliases to unknown types are ignored.
func LoadTypeCatalog(ctx context.Context, repo interfaces.ReadingRepository, aliases map[string]string) (*TypeCatalog, error) {
	types, err := repo.ListValueTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load value types: %w", err)
	}
	ids := make(map[string]int64, len(types)+len(aliases))
	for name, id := range types {
		ids[name] = id
	}
	for alias, target := range aliases {
		if id, ok := types[target]; ok {
			ids[alias] = id
		}
	}
	return &TypeCatalog{ids: ids}, nil
}

// Lookup returns the type id for a payload key
func (c *TypeCatalog) Lookup(key string) (int64, bool) {
	id, ok := c.ids[key]
	return id, ok
}

// Keys returns every payload key the catalog knows, sorted
func (c *TypeCatalog) Keys() []string {
	keys := make([]string, 0, len(c.ids))
	for k := range c.ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/satellite-tracker/model"
)

// ErrInvalidCatalog is returned when catalog entries fail validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog is the immutable set of tracked objects loaded at startup.
type Catalog struct {
	ordered []model.TrackedObject // priority tier, then id
	byID    map[int]model.TrackedObject
}

// New validates objects and builds a Catalog.
func New(objects []model.TrackedObject) (*Catalog, error) {
	if err := Validate(objects); err != nil {
		return nil, err
	}

	c := &Catalog{
		ordered: append([]model.TrackedObject(nil), objects...),
		byID:    make(map[int]model.TrackedObject, len(objects)),
	}
	SortByPriority(c.ordered)
	for _, o := range c.ordered {
		c.byID[o.ID] = o
	}
	return c, nil
}

// Validate checks ids are positive and unique, names non-empty, priority at
// least 1 and the real-fetch interval positive.
func Validate(objects []model.TrackedObject) error {
	if len(objects) == 0 {
		return fmt.Errorf("%w: no objects", ErrInvalidCatalog)
	}
	seen := make(map[int]struct{}, len(objects))
	for i, o := range objects {
		if o.ID <= 0 {
			return fmt.Errorf("%w: entry %d has non-positive id %d", ErrInvalidCatalog, i, o.ID)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("%w: duplicate id %d", ErrInvalidCatalog, o.ID)
		}
		seen[o.ID] = struct{}{}
		if strings.TrimSpace(o.Name) == "" {
			return fmt.Errorf("%w: object %d has empty name", ErrInvalidCatalog, o.ID)
		}
		if o.Priority < 1 {
			return fmt.Errorf("%w: object %d priority %d < 1", ErrInvalidCatalog, o.ID, o.Priority)
		}
		if o.RealFetchIntervalSec <= 0 {
			return fmt.Errorf("%w: object %d real fetch interval must be > 0", ErrInvalidCatalog, o.ID)
		}
	}
	return nil
}

// SortByPriority orders objects by priority tier (1 first) and then id.
func SortByPriority(objects []model.TrackedObject) {
	sort.SliceStable(objects, func(i, j int) bool {
		if objects[i].Priority != objects[j].Priority {
			return objects[i].Priority < objects[j].Priority
		}
		return objects[i].ID < objects[j].ID
	})
}

// Get returns the object with the given id.
func (c *Catalog) Get(id int) (model.TrackedObject, bool) {
	o, ok := c.byID[id]
	return o, ok
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id int) bool {
	_, ok := c.byID[id]
	return ok
}

// All returns a copy of every object, ordered by priority then id.
func (c *Catalog) All() []model.TrackedObject {
	return append([]model.TrackedObject(nil), c.ordered...)
}

// Len returns the number of tracked objects.
func (c *Catalog) Len() int { return len(c.ordered) }

// Search returns objects whose name contains term, case-insensitively, in
// priority order. At most limit results are returned; limit <= 0 means no
// limit. An empty term matches nothing.
func (c *Catalog) Search(term string, limit int) []model.TrackedObject {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil
	}

	var out []model.TrackedObject
	for _, o := range c.ordered {
		if !strings.Contains(strings.ToLower(o.Name), needle) {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Package catalog provides the read-only drug metadata lookup used by scoring.
package catalog

import (
	"strings"

	"regimen-risk/backend/internal/store"
)

// UnknownClass is reported for drugs that cannot be resolved to a class.
const UnknownClass = "UNKNOWN"

// Drug is the metadata kept for each catalogued drug.
type Drug struct {
	ID    string `json:"drug_id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Class string `json:"drug_class"`
}

// Catalog is an immutable index of drug metadata. All methods are safe for
// concurrent use once constructed.
type Catalog struct {
	order   []string
	drugs   map[string]Drug
	byClass map[string][]string
}

// New indexes the given drugs. The first occurrence of an id wins and input
// order becomes the natural enumeration order.
func New(drugs []Drug) *Catalog {
	c := &Catalog{
		drugs:   make(map[string]Drug, len(drugs)),
		byClass: make(map[string][]string),
	}
	for _, d := range drugs {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			continue
		}
		if _, ok := c.drugs[id]; ok {
			continue
		}
		d.ID = id
		d.Class = normalizeClass(d.Class)
		c.drugs[id] = d
		c.order = append(c.order, id)
		if d.Class != UnknownClass {
			c.byClass[d.Class] = append(c.byClass[d.Class], id)
		}
	}
	return c
}

// FromStore converts knowledge-base rows into a catalog.
func FromStore(rows []store.Drug) *Catalog {
	drugs := make([]Drug, 0, len(rows))
	for _, row := range rows {
		drugs = append(drugs, Drug{
			ID:    row.DrugID,
			Name:  row.Name,
			Type:  row.Type,
			Class: row.DrugClass,
		})
	}
	return New(drugs)
}

// ClassOf returns the pharmacologic class of the drug, or UnknownClass.
func (c *Catalog) ClassOf(drugID string) string {
	if c == nil {
		return UnknownClass
	}
	d, ok := c.drugs[strings.TrimSpace(drugID)]
	if !ok {
		return UnknownClass
	}
	return d.Class
}

// Drug returns the metadata for the id.
func (c *Catalog) Drug(drugID string) (Drug, bool) {
	if c == nil {
		return Drug{}, false
	}
	d, ok := c.drugs[strings.TrimSpace(drugID)]
	return d, ok
}

// DrugIDs returns every id in natural order. The slice is a copy.
func (c *Catalog) DrugIDs() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.order...)
}

// SameClass returns the ids sharing exactly the given class, in natural order.
func (c *Catalog) SameClass(class string) []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.byClass[class]...)
}

// Drugs returns the metadata in natural order, optionally filtered by class.
func (c *Catalog) Drugs(class string) []Drug {
	if c == nil {
		return nil
	}
	ids := c.order
	if class = strings.TrimSpace(class); class != "" {
		ids = c.byClass[class]
	}
	out := make([]Drug, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.drugs[id])
	}
	return out
}

// Len reports the number of catalogued drugs.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

func normalizeClass(class string) string {
	class = strings.TrimSpace(class)
	if class == "" || strings.EqualFold(class, "nan") || class == UnknownClass {
		return UnknownClass
	}
	return class
}

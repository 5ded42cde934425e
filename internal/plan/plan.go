// Package plan resolves billing plans to storage caps.
package plan

import (
	"fmt"
	"os"
	"sort"

	"github.com/abduss/appdrive/internal/apperr"
	"gopkg.in/yaml.v3"
)

// ErrPlanNotFound indicates the plan id is unknown to the catalog.
var ErrPlanNotFound = apperr.New(apperr.KindNotFound, "plan_not_found", "plan not found")

// Plan describes a storage tier.
type Plan struct {
	ID              string `yaml:"id" json:"id"`
	Name            string `yaml:"name" json:"name"`
	StorageCapBytes int64  `yaml:"storage_cap_bytes" json:"storage_cap_bytes"`
}

// Catalog is a read-only plan lookup.
type Catalog struct {
	plans     map[string]Plan
	defaultID string
}

type catalogFile struct {
	Default string `yaml:"default"`
	Plans   []Plan `yaml:"plans"`
}

// NewCatalog builds a catalog from plans; defaultID must be among them.
func NewCatalog(defaultID string, plans ...Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans)), defaultID: defaultID}
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan without id")
		}
		if p.StorageCapBytes < 0 {
			return nil, fmt.Errorf("plan %q has negative storage cap", p.ID)
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.ID)
		}
		c.plans[p.ID] = p
	}
	if _, ok := c.plans[defaultID]; !ok {
		return nil, fmt.Errorf("default plan %q is not in the catalog", defaultID)
	}
	return c, nil
}

// Defaults returns the built-in catalog with a free tier of freeCapBytes.
func Defaults(freeID string, freeCapBytes int64) *Catalog {
	const gib = int64(1024 * 1024 * 1024)
	plans := []Plan{
		{ID: freeID, Name: "Free", StorageCapBytes: freeCapBytes},
		{ID: "pro", Name: "Pro", StorageCapBytes: 200 * gib},
		{ID: "business", Name: "Business", StorageCapBytes: 2048 * gib},
	}
	c, err := NewCatalog(freeID, plans...)
	if err != nil {
		// only reachable when freeID collides with a built-in id
		c, _ = NewCatalog(freeID, Plan{ID: freeID, Name: "Free", StorageCapBytes: freeCapBytes})
	}
	return c
}

// LoadCatalog reads a YAML catalog:
//
//	default: free
//	plans:
//	  - id: free
//	    name: Free
//	    storage_cap_bytes: 5368709120
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	return NewCatalog(file.Default, file.Plans...)
}

// Lookup resolves a plan id.
func (c *Catalog) Lookup(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// Default returns the plan assigned to new accounts.
func (c *Catalog) Default() Plan {
	return c.plans[c.defaultID]
}

// List returns all plans ordered by cap.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StorageCapBytes < out[j].StorageCapBytes })
	return out
}

// Package catalog holds the clinic's bookable services and time slots.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Service is a bookable service and its sub-services.
type Service struct {
	Name        string   `yaml:"name" json:"name"`
	SubServices []string `yaml:"sub_services" json:"sub_services"`
}

// Slots groups the daily appointment slots.
type Slots struct {
	Morning   []string `yaml:"morning" json:"morning"`
	Afternoon []string `yaml:"afternoon" json:"afternoon"`
}

// Catalog is the set of services and slots the clinic offers.
type Catalog struct {
	Slots    Slots     `yaml:"slots" json:"slots"`
	Services []Service `yaml:"services" json:"services"`

	slotIndex map[string]int
	services  map[string]map[string]bool
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from path. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	all := c.AllSlots()
	if len(all) == 0 {
		return fmt.Errorf("catalog has no slots")
	}
	c.slotIndex = make(map[string]int, len(all))
	for i, s := range all {
		if _, dup := c.slotIndex[s]; dup {
			return fmt.Errorf("duplicate slot %q", s)
		}
		c.slotIndex[s] = i
	}

	if len(c.Services) == 0 {
		return fmt.Errorf("catalog has no services")
	}
	c.services = make(map[string]map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service name is required")
		}
		subs := make(map[string]bool, len(svc.SubServices))
		for _, sub := range svc.SubServices {
			subs[sub] = true
		}
		c.services[svc.Name] = subs
	}
	return nil
}

// AllSlots returns the morning slots followed by the afternoon slots.
func (c *Catalog) AllSlots() []string {
	out := make([]string, 0, len(c.Slots.Morning)+len(c.Slots.Afternoon))
	out = append(out, c.Slots.Morning...)
	return append(out, c.Slots.Afternoon...)
}

func (c *Catalog) HasService(name string) bool {
	_, ok := c.services[name]
	return ok
}

// HasSubService reports whether sub belongs to service. A service without
// sub-services accepts an empty sub.
func (c *Catalog) HasSubService(service, sub string) bool {
	subs, ok := c.services[service]
	if !ok {
		return false
	}
	if len(subs) == 0 {
		return sub == ""
	}
	return subs[sub]
}

func (c *Catalog) IsSlot(label string) bool {
	_, ok := c.slotIndex[label]
	return ok
}

// SlotIndex returns the chronological position of label, or -1.
func (c *Catalog) SlotIndex(label string) int {
	if i, ok := c.slotIndex[label]; ok {
		return i
	}
	return -1
}

// Sorted returns the known slots of labels in chronological order. Unknown
// labels are dropped.
func (c *Catalog) Sorted(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if c.IsSlot(l) && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return c.slotIndex[out[i]] < c.slotIndex[out[j]] })
	return out
}

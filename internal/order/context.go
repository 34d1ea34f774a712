// Package order holds the per-session state of the order being assembled
// through conversation.
package order

import (
	"sync"

	"github.com/Croups/cloudprinter-chatbot/internal/catalog"
)

// SelectedOption is a chosen product option. At most one selection exists per Type.
type SelectedOption struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
}

// AvailableOption is an option offered by the last product detail, grouped by type.
type AvailableOption struct {
	Reference string `json:"reference"`
	Note      string `json:"note"`
	Default   int    `json:"default"`
}

// Fields is a bulk update. Nil pointers leave the current value untouched.
type Fields struct {
	ProductType      *string
	ProductReference *string
	Quantity         *string
	PaperType        *string
	PaperWeight      *string
	Laminate         *string
	Country          *string
	State            *string
	City             *string
	DeliverySpeed    *string
	SelectedOptions  []SelectedOption
	AvailableOptions map[string][]AvailableOption
	QuoteResult      *catalog.QuoteResponse
}

// Snapshot is a point-in-time copy of a Context. Absent fields encode as null.
type Snapshot struct {
	ProductType      *string                      `json:"product_type"`
	ProductReference *string                      `json:"product_reference"`
	Quantity         *string                      `json:"quantity"`
	PaperType        *string                      `json:"paper_type"`
	PaperWeight      *string                      `json:"paper_weight"`
	Laminate         *string                      `json:"laminate"`
	Country          *string                      `json:"country"`
	State            *string                      `json:"state"`
	City             *string                      `json:"city"`
	DeliverySpeed    *string                      `json:"delivery_speed"`
	QuoteResult      *catalog.QuoteResponse       `json:"quote_result"`
	SelectedOptions  []SelectedOption             `json:"selected_options"`
	AvailableOptions map[string][]AvailableOption `json:"available_options,omitempty"`
}

// Context is the mutable order state of one session.
type Context struct {
	mu   sync.RWMutex
	data Snapshot
}

// New returns an empty context.
func New() *Context {
	c := &Context{}
	c.data.SelectedOptions = []SelectedOption{}
	return c
}

// Update merges the non-nil fields of f. Selected options are merged into the
// existing list rather than replacing it.
func (c *Context) Update(f Fields) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := func(dst **string, v *string) {
		if v != nil {
			s := *v
			*dst = &s
		}
	}
	set(&c.data.ProductType, f.ProductType)
	set(&c.data.ProductReference, f.ProductReference)
	set(&c.data.Quantity, f.Quantity)
	set(&c.data.PaperType, f.PaperType)
	set(&c.data.PaperWeight, f.PaperWeight)
	set(&c.data.Laminate, f.Laminate)
	set(&c.data.Country, f.Country)
	set(&c.data.State, f.State)
	set(&c.data.City, f.City)
	set(&c.data.DeliverySpeed, f.DeliverySpeed)

	if f.QuoteResult != nil {
		c.data.QuoteResult = f.QuoteResult
	}
	if f.AvailableOptions != nil {
		c.data.AvailableOptions = f.AvailableOptions
	}
	for _, opt := range f.SelectedOptions {
		if opt.Type == "" || opt.Reference == "" || c.hasSelection(opt) {
			continue
		}
		c.selectLocked(opt)
	}
	return c.snapshotLocked()
}

// SelectOption records reference as the selection for optionType, replacing
// any earlier selection of that type.
func (c *Context) SelectOption(optionType, reference string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectLocked(SelectedOption{Type: optionType, Reference: reference})
	return c.snapshotLocked()
}

// SelectedOptions returns the selections in the order they were made.
func (c *Context) SelectedOptions() []SelectedOption {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]SelectedOption(nil), c.data.SelectedOptions...)
}

// Snapshot returns a copy of the current state.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Reset clears every field and all selections.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = Snapshot{SelectedOptions: []SelectedOption{}}
}

func (c *Context) hasSelection(opt SelectedOption) bool {
	for _, s := range c.data.SelectedOptions {
		if s == opt {
			return true
		}
	}
	return false
}

func (c *Context) selectLocked(opt SelectedOption) {
	kept := make([]SelectedOption, 0, len(c.data.SelectedOptions)+1)
	for _, s := range c.data.SelectedOptions {
		if s.Type != opt.Type {
			kept = append(kept, s)
		}
	}
	c.data.SelectedOptions = append(kept, opt)
}

func (c *Context) snapshotLocked() Snapshot {
	s := c.data
	s.SelectedOptions = append([]SelectedOption{}, c.data.SelectedOptions...)
	if c.data.AvailableOptions != nil {
		s.AvailableOptions = make(map[string][]AvailableOption, len(c.data.AvailableOptions))
		for k, v := range c.data.AvailableOptions {
			s.AvailableOptions[k] = append([]AvailableOption(nil), v...)
		}
	}
	return s
}

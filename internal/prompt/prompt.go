// Package prompt holds the assistant's prompt texts and loads operator overrides.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// DefaultSystem guides the model through product, options, quantity and delivery.
const DefaultSystem = `You are a helpful and friendly chatbot for Cloudprinter.com. Your role is to assist users in getting accurate price information
for print products. Engage in natural conversation to gather the necessary details like product type, paper specifications,
quantity, and delivery location.

Always maintain a conversational, helpful, and friendly tone. Ask for one piece of information at a time, and guide the user
through the process step by step.

When helping users select a product:
1. First determine what type of product they want (business cards, books, etc.)
2. Use list_all_products to find matching products
3. When a product is selected, use get_product_info to fetch details and available options
4. For each option type (paper, finish, etc.):
   - Present the exact available options to the user
   - When they make a selection, use update_option_selection to record their choice
5. Ask for quantity and delivery location
6. Use get_quote to get pricing with all selected options

Make sure to use the exact option references from the API when selecting options. Never make up option references.`

// DefaultProductFilterSystem constrains the product matching call to bare output.
const DefaultProductFilterSystem = "You are a helpful product matching assistant that returns only the requested information with no extra text."

// DefaultProductFilter is rendered with .Products (a JSON list of name and
// category pairs) and .Category.
const DefaultProductFilter = `You received a list of products with their names and categories.
{{.Products}}

Return the names of the products that categories matches or synonyms of: "{{.Category}}"
Return the product names as a simple comma-separated list, with no additional text or explanations.
Be sure you give the exact name of the product as listed, not a synonym.`

// Set is the collection of prompts used by a running assistant.
type Set struct {
	System              string `yaml:"system"`
	ProductFilterSystem string `yaml:"product_filter_system"`
	ProductFilter       string `yaml:"product_filter"`

	filter *template.Template
}

// Default returns the built-in prompts.
func Default() *Set {
	s, err := build(Set{})
	if err != nil {
		panic(err) // built-in template is static
	}
	return s
}

// Load reads a YAML override file. Keys that are missing or empty keep the
// built-in text. An empty path returns Default.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	var overrides Set
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompt file %s: %w", path, err)
	}
	return build(overrides)
}

func build(s Set) (*Set, error) {
	if strings.TrimSpace(s.System) == "" {
		s.System = DefaultSystem
	}
	if strings.TrimSpace(s.ProductFilterSystem) == "" {
		s.ProductFilterSystem = DefaultProductFilterSystem
	}
	if strings.TrimSpace(s.ProductFilter) == "" {
		s.ProductFilter = DefaultProductFilter
	}
	tmpl, err := template.New("product_filter").Parse(s.ProductFilter)
	if err != nil {
		return nil, fmt.Errorf("parse product_filter template: %w", err)
	}
	s.filter = tmpl
	return &s, nil
}

// RenderProductFilter renders the product matching prompt.
func (s *Set) RenderProductFilter(productsJSON, category string) (string, error) {
	var buf bytes.Buffer
	err := s.filter.Execute(&buf, struct {
		Products string
		Category string
	}{productsJSON, category})
	if err != nil {
		return "", fmt.Errorf("render product_filter: %w", err)
	}
	return buf.String(), nil
}

// Package catalog is a typed client for the Cloudprinter CloudCore pricing API.
package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Product is an entry of the account catalog returned by the products endpoint.
type Product struct {
	Name      string `json:"name"`
	Note      string `json:"note,omitempty"`
	Reference string `json:"reference"`
	Category  string `json:"category,omitempty"`
	FromPrice string `json:"from_price,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// ProductDetail describes one product with its selectable options and specs.
type ProductDetail struct {
	Name      string            `json:"name"`
	Note      string            `json:"note,omitempty"`
	Reference string            `json:"reference"`
	Prices    []json.RawMessage `json:"prices,omitempty"` // deprecated upstream, passed through untouched
	Options   []ProductOption   `json:"options"`
	Specs     []ProductSpec     `json:"specs"`
}

// ProductOption is a selectable option of a product. Type groups options that
// exclude each other, e.g. all paper materials share one type.
type ProductOption struct {
	Reference string      `json:"reference"`
	Note      string      `json:"note"`
	Type      string      `json:"type"`
	Default   DefaultFlag `json:"default"`
}

// ProductSpec is a fixed attribute line of a product, as a note and value pair.
type ProductSpec struct {
	Note  string `json:"note"`
	Value string `json:"value"`
}

// DefaultFlag is the 0/1 marker of a product's default option. The upstream
// is not consistent about its type, so anything that is not an integer
// decodes as 0.
type DefaultFlag int

// UnmarshalJSON implements json.Unmarshaler.
func (f *DefaultFlag) UnmarshalJSON(data []byte) error {
	*f = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			*f = DefaultFlag(n)
		}
	case 't':
		*f = 1
	default:
		if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			*f = DefaultFlag(n)
		}
	}
	return nil
}

// ItemOption is an option line of a quote item. Type carries the concrete
// option reference from the product detail.
type ItemOption struct {
	Type  string `json:"type"`
	Count string `json:"count"`
}

// QuoteItem is one product line of a quote request.
type QuoteItem struct {
	Reference string       `json:"reference"`
	Product   string       `json:"product"`
	Count     string       `json:"count"`
	Options   []ItemOption `json:"options"`
}

// QuoteRequest is the body of the orders/quote endpoint.
// APIKey is never serialized; the client adds the key itself.
type QuoteRequest struct {
	APIKey   string      `json:"-"`
	Currency string      `json:"currency,omitempty"`
	Country  string      `json:"country"`
	State    string      `json:"state,omitempty"`
	Items    []QuoteItem `json:"items"`
}

// QuoteResponse is a priced, time-limited offer.
type QuoteResponse struct {
	Price               string            `json:"price"`
	VAT                 string            `json:"vat"`
	Currency            string            `json:"currency"`
	ExpireDate          string            `json:"expire_date"`
	Subtotals           map[string]string `json:"subtotals"`
	Shipments           []Shipment        `json:"shipments"`
	InvoiceCurrency     string            `json:"invoice_currency"`
	InvoiceExchangeRate string            `json:"invoice_exchange_rate"`
}

// Shipment groups quote items that ship together.
type Shipment struct {
	TotalWeight string          `json:"total_weight"`
	Items       []ShipmentItem  `json:"items"`
	Quotes      []ShipmentQuote `json:"quotes"`
}

// ShipmentItem references a quote item by its client reference.
type ShipmentItem struct {
	Reference string `json:"reference"`
}

// ShipmentQuote is one shipping alternative for a shipment.
type ShipmentQuote struct {
	Quote          string `json:"quote"`
	Service        string `json:"service"`
	ShippingLevel  string `json:"shipping_level"`
	ShippingOption string `json:"shipping_option"`
	Price          string `json:"price"`
	VAT            string `json:"vat"`
	Currency       string `json:"currency"`
}

// ShippingLevel is a delivery speed offered by the account.
type ShippingLevel struct {
	Reference string `json:"shipping_level_reference"`
	Level     string `json:"shipping_level"`
	Name      string `json:"name"`
	Note      string `json:"note"`
}

// ShippingCountry is a destination country.
type ShippingCountry struct {
	Reference    string `json:"country_reference"`
	Note         string `json:"note"`
	RequireState Flag   `json:"require_state"`
}

// ShippingState is a state or region of a destination country.
type ShippingState struct {
	Reference string `json:"state_reference"`
	Name      string `json:"name"`
	Note      string `json:"note"`
}

// Flag is a boolean the upstream encodes as 0/1, "0"/"1", "yes"/"no" or
// true/false. Unrecognised values decode as false.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(string(bytes.Trim(bytes.TrimSpace(data), `"`)))
	switch s {
	case "true", "yes", "y":
		*f = true
		return nil
	case "", "0", "false", "no", "n", "null":
		*f = false
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	*f = err == nil && n != 0
	return nil
}

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Croups/cloudprinter-chatbot/internal/catalog"
	"github.com/Croups/cloudprinter-chatbot/internal/llm"
	"github.com/Croups/cloudprinter-chatbot/internal/order"
)

// productFilterTemperature keeps the product matching call close to deterministic.
const productFilterTemperature = 0.3

func (r *Registry) listAllProducts(ctx context.Context, env Env, raw json.RawMessage) (any, error) {
	var args struct {
		Category string `json:"category"`
	}
	if err := decodeArgs(listAllProductsDef.Name, raw, &args); err != nil {
		return nil, err
	}

	products, err := r.catalog.Products(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Retrieved catalog for matching", "count", len(products))

	category := strings.TrimSpace(args.Category)
	if category == "" {
		return products, nil
	}

	names, err := r.matchProductNames(ctx, env, products, category)
	if err != nil {
		return nil, err
	}
	matched := filterByNames(products, names)
	r.logger.Info("Matched products", "category", category, "count", len(matched))
	return matched, nil
}

// matchProductNames asks the model which catalog names fit category. It makes
// exactly one model call.
func (r *Registry) matchProductNames(ctx context.Context, env Env, products []catalog.Product, category string) ([]string, error) {
	if r.model == nil {
		return nil, errors.New("product matching is unavailable: no model configured")
	}

	type pair struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	pairs := make([]pair, 0, len(products))
	for _, p := range products {
		pairs = append(pairs, pair{Name: p.Name, Category: p.Category})
	}
	listing, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode product list: %w", err)
	}
	userPrompt, err := r.prompts.RenderProductFilter(string(listing), category)
	if err != nil {
		return nil, err
	}

	resp, err := r.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: r.prompts.ProductFilterSystem},
			{Role: llm.RoleUser, Content: userPrompt},
		},
		Temperature: llm.Temperature(productFilterTemperature),
	})
	if err != nil {
		return nil, err
	}
	if env.Usage != nil {
		env.Usage.Add(resp.Usage)
	}
	r.logger.Info("Model matched product names", "category", category, "names", resp.Message.Content)
	return splitNames(resp.Message.Content), nil
}

func splitNames(s string) []string {
	var names []string
	for _, part := range strings.Split(strings.TrimSpace(s), ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// filterByNames keeps products whose name contains any of names, ignoring case.
func filterByNames(products []catalog.Product, names []string) []catalog.Product {
	matched := []catalog.Product{}
	for _, p := range products {
		lower := strings.ToLower(p.Name)
		for _, n := range names {
			if strings.Contains(lower, strings.ToLower(n)) {
				matched = append(matched, p)
				break
			}
		}
	}
	return matched
}

func (r *Registry) getProductInfo(ctx context.Context, env Env, raw json.RawMessage) (any, error) {
	var args struct {
		Reference string `json:"reference"`
	}
	if err := decodeArgs(getProductInfoDef.Name, raw, &args); err != nil {
		return nil, err
	}
	if err := required(getProductInfoDef.Name, "reference", args.Reference); err != nil {
		return nil, err
	}

	detail, err := r.catalog.ProductDetail(ctx, args.Reference)
	if err != nil {
		return nil, err
	}

	fields := order.Fields{ProductReference: &args.Reference}
	if len(detail.Options) > 0 {
		groups := make(map[string][]order.AvailableOption)
		for _, opt := range detail.Options {
			groups[opt.Type] = append(groups[opt.Type], order.AvailableOption{
				Reference: opt.Reference,
				Note:      opt.Note,
				Default:   int(opt.Default),
			})
		}
		fields.AvailableOptions = groups
		r.logger.Info("Stored option groups in context", "reference", args.Reference, "groups", len(groups))
	}
	env.Order.Update(fields)
	return detail, nil
}

func (r *Registry) getShippingCountries(ctx context.Context, _ Env, _ json.RawMessage) (any, error) {
	return r.catalog.ShippingCountries(ctx)
}

func (r *Registry) getShippingStates(ctx context.Context, _ Env, raw json.RawMessage) (any, error) {
	var args struct {
		CountryReference string `json:"country_reference"`
	}
	if err := decodeArgs(getShippingStatesDef.Name, raw, &args); err != nil {
		return nil, err
	}
	if err := required(getShippingStatesDef.Name, "country_reference", args.CountryReference); err != nil {
		return nil, err
	}
	return r.catalog.ShippingStates(ctx, args.CountryReference)
}

func (r *Registry) getShippingLevels(ctx context.Context, _ Env, _ json.RawMessage) (any, error) {
	return r.catalog.ShippingLevels(ctx)
}

type quoteOption struct {
	Reference string  `json:"reference"`
	Type      string  `json:"type"`
	Count     decimal `json:"count"`
}

func (r *Registry) getQuote(ctx context.Context, env Env, raw json.RawMessage) (any, error) {
	var args struct {
		ProductReference string        `json:"product_reference"`
		Quantity         decimal       `json:"quantity"`
		Country          string        `json:"country"`
		State            string        `json:"state"`
		Options          []quoteOption `json:"options"`
	}
	if err := decodeArgs(getQuoteDef.Name, raw, &args); err != nil {
		return nil, err
	}
	if err := required(getQuoteDef.Name,
		"product_reference", args.ProductReference,
		"quantity", string(args.Quantity),
		"country", args.Country,
	); err != nil {
		return nil, err
	}

	req := catalog.QuoteRequest{
		Country: args.Country,
		State:   args.State,
		Items: []catalog.QuoteItem{{
			Reference: r.itemRef(),
			Product:   args.ProductReference,
			Count:     string(args.Quantity),
			Options:   itemOptions(env.Order.SelectedOptions(), args.Options),
		}},
	}
	if data, err := json.Marshal(req); err == nil {
		r.logger.Info("Sending quote request", "request", string(data))
	}

	quote, err := r.catalog.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	env.Order.Update(order.Fields{QuoteResult: quote})
	return quote, nil
}

// itemOptions merges the recorded selections with the options passed to
// get_quote. Selections come first with count 1; an argument option whose
// reference is already present is skipped.
func itemOptions(selected []order.SelectedOption, extra []quoteOption) []catalog.ItemOption {
	opts := []catalog.ItemOption{}
	seen := make(map[string]bool)
	for _, s := range selected {
		if s.Reference == "" || seen[s.Reference] {
			continue
		}
		seen[s.Reference] = true
		opts = append(opts, catalog.ItemOption{Type: s.Reference, Count: "1"})
	}
	for _, o := range extra {
		ref := strings.TrimSpace(o.Reference)
		if ref == "" {
			ref = strings.TrimSpace(o.Type)
		}
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		count := string(o.Count)
		if count == "" {
			count = "1"
		}
		opts = append(opts, catalog.ItemOption{Type: ref, Count: count})
	}
	return opts
}

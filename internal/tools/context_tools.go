package tools

import (
	"context"
	"encoding/json"

	"github.com/Croups/cloudprinter-chatbot/internal/order"
)

func (r *Registry) updateConversationContext(_ context.Context, env Env, raw json.RawMessage) (any, error) {
	var args struct {
		ProductType      *string                `json:"product_type"`
		ProductReference *string                `json:"product_reference"`
		Quantity         *decimal               `json:"quantity"`
		PaperType        *string                `json:"paper_type"`
		PaperWeight      *string                `json:"paper_weight"`
		Laminate         *string                `json:"laminate"`
		Country          *string                `json:"country"`
		State            *string                `json:"state"`
		City             *string                `json:"city"`
		DeliverySpeed    *string                `json:"delivery_speed"`
		SelectedOptions  []order.SelectedOption `json:"selected_options"`
	}
	if err := decodeArgs(updateConversationContextDef.Name, raw, &args); err != nil {
		return nil, err
	}

	var quantity *string
	if args.Quantity != nil {
		q := string(*args.Quantity)
		quantity = text(&q)
	}

	snap := env.Order.Update(order.Fields{
		ProductType:      text(args.ProductType),
		ProductReference: text(args.ProductReference),
		Quantity:         quantity,
		PaperType:        text(args.PaperType),
		PaperWeight:      text(args.PaperWeight),
		Laminate:         text(args.Laminate),
		Country:          text(args.Country),
		State:            text(args.State),
		City:             text(args.City),
		DeliverySpeed:    text(args.DeliverySpeed),
		SelectedOptions:  args.SelectedOptions,
	})
	return snap, nil
}

func (r *Registry) updateOptionSelection(_ context.Context, env Env, raw json.RawMessage) (any, error) {
	var args struct {
		OptionType      string `json:"option_type"`
		OptionReference string `json:"option_reference"`
	}
	if err := decodeArgs(updateOptionSelectionDef.Name, raw, &args); err != nil {
		return nil, err
	}
	if err := required(updateOptionSelectionDef.Name,
		"option_type", args.OptionType,
		"option_reference", args.OptionReference,
	); err != nil {
		return nil, err
	}

	snap := env.Order.SelectOption(args.OptionType, args.OptionReference)
	r.logger.Info("Updated option selection", "option_type", args.OptionType, "option_reference", args.OptionReference)
	return snap, nil
}

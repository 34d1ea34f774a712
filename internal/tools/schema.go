package tools

import "github.com/Croups/cloudprinter-chatbot/internal/llm"

func object(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

var listAllProductsDef = llm.ToolDefinition{
	Name:        "list_all_products",
	Description: "Get a list of all available print products with basic information",
	Parameters: object(map[string]any{
		"category": str("Filter products by category (e.g., 'Business Cards', 'Textbook BW')"),
	}),
}

var getProductInfoDef = llm.ToolDefinition{
	Name:        "get_product_info",
	Description: "Get detailed information about a specific product including options and specifications",
	Parameters: object(map[string]any{
		"reference": str("The unique product reference code"),
	}, "reference"),
}

var getShippingCountriesDef = llm.ToolDefinition{
	Name:        "get_shipping_countries",
	Description: "Get a list of all countries where shipping is available",
	Parameters:  object(map[string]any{}),
}

var getShippingStatesDef = llm.ToolDefinition{
	Name:        "get_shipping_states",
	Description: "Get a list of all states/regions for a specific country",
	Parameters: object(map[string]any{
		"country_reference": str("The country code (ISO 3166-1 alpha-2)"),
	}, "country_reference"),
}

var getShippingLevelsDef = llm.ToolDefinition{
	Name:        "get_shipping_levels",
	Description: "Get a list of all available shipping options",
	Parameters:  object(map[string]any{}),
}

var getQuoteDef = llm.ToolDefinition{
	Name:        "get_quote",
	Description: "Get a price quote for an order. Options already recorded with update_option_selection are included automatically.",
	Parameters: object(map[string]any{
		"product_reference": str("The reference code of the product"),
		"quantity":          str("The quantity of products to order"),
		"country":           str("The country code (ISO 3166-1 alpha-2) for delivery"),
		"state":             str("The state code for delivery (required for some countries)"),
		"options": map[string]any{
			"type":        "array",
			"description": "Additional product options not recorded with update_option_selection",
			"items": object(map[string]any{
				"reference": str("The option reference code from get_product_info"),
				"count":     str("The count for this option, e.g. the number of pages; defaults to 1"),
			}),
		},
	}, "product_reference", "quantity", "country"),
}

var updateConversationContextDef = llm.ToolDefinition{
	Name:        "update_conversation_context",
	Description: "Update the conversation context with new information gathered from the user",
	Parameters: object(map[string]any{
		"product_type":      str("The type of product (e.g., 'business cards', 'book', 'flyer')"),
		"product_reference": str("The reference code for the selected product"),
		"quantity":          str("The quantity requested by the user"),
		"paper_type":        str("The type of paper (e.g., 'glossy', 'matte', 'offset')"),
		"paper_weight":      str("The weight of paper (e.g., '250gsm', '300gsm')"),
		"laminate":          str("The laminate finish (e.g., 'glossy', 'matte', 'none')"),
		"country":           str("The delivery country"),
		"state":             str("The delivery state/region (for countries requiring it)"),
		"city":              str("The delivery city"),
		"delivery_speed":    str("The preferred delivery speed (e.g., 'fast', 'standard')"),
		"selected_options": map[string]any{
			"type":        "array",
			"description": "List of selected product options",
			"items": object(map[string]any{
				"type":      str("The option type"),
				"reference": str("The option reference code"),
			}),
		},
	}),
}

var updateOptionSelectionDef = llm.ToolDefinition{
	Name:        "update_option_selection",
	Description: "Select a specific option for the product",
	Parameters: object(map[string]any{
		"option_type":      str("The type of option (e.g., 'type_product_material', 'type_sheet_product_finish')"),
		"option_reference": str("The reference code of the selected option (e.g., 'paper_300ecb', 'product_finish_gloss')"),
	}, "option_type", "option_reference"),
}

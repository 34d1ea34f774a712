// Package tools implements the operations the model may call during a turn.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/Croups/cloudprinter-chatbot/internal/catalog"
	"github.com/Croups/cloudprinter-chatbot/internal/llm"
	"github.com/Croups/cloudprinter-chatbot/internal/order"
	"github.com/Croups/cloudprinter-chatbot/internal/prompt"
	"github.com/google/uuid"
)

// Catalog is the part of the pricing API the tools use.
type Catalog interface {
	Products(ctx context.Context) ([]catalog.Product, error)
	ProductDetail(ctx context.Context, reference string) (*catalog.ProductDetail, error)
	ShippingCountries(ctx context.Context) ([]catalog.ShippingCountry, error)
	ShippingStates(ctx context.Context, countryRef string) ([]catalog.ShippingState, error)
	ShippingLevels(ctx context.Context) ([]catalog.ShippingLevel, error)
	Quote(ctx context.Context, req catalog.QuoteRequest) (*catalog.QuoteResponse, error)
}

var _ Catalog = (*catalog.Client)(nil)

// Env is the session state a tool invocation acts on.
type Env struct {
	Order *order.Context
	Usage *llm.UsageCounter
}

type handler func(ctx context.Context, env Env, args json.RawMessage) (any, error)

type tool struct {
	def llm.ToolDefinition
	run handler
}

// Registry maps tool names to their implementations. It holds no session
// state and is safe to share between sessions.
type Registry struct {
	catalog Catalog
	model   llm.Provider
	prompts *prompt.Set
	logger  *slog.Logger
	itemRef func() string

	order []string
	tools map[string]tool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPrompts sets the prompts used by the product matching call.
func WithPrompts(p *prompt.Set) Option {
	return func(r *Registry) {
		if p != nil {
			r.prompts = p
		}
	}
}

// WithItemReference overrides the generator of quote item references.
func WithItemReference(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.itemRef = fn
		}
	}
}

// New creates the registry. model is used by list_all_products to match
// products against a free-text category.
func New(cat Catalog, model llm.Provider, opts ...Option) *Registry {
	r := &Registry{
		catalog: cat,
		model:   model,
		prompts: prompt.Default(),
		logger:  slog.Default(),
		itemRef: newItemReference,
		tools:   make(map[string]tool),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.register(listAllProductsDef, r.listAllProducts)
	r.register(getProductInfoDef, r.getProductInfo)
	r.register(getShippingCountriesDef, r.getShippingCountries)
	r.register(getShippingStatesDef, r.getShippingStates)
	r.register(getShippingLevelsDef, r.getShippingLevels)
	r.register(getQuoteDef, r.getQuote)
	r.register(updateConversationContextDef, r.updateConversationContext)
	r.register(updateOptionSelectionDef, r.updateOptionSelection)
	return r
}

func (r *Registry) register(def llm.ToolDefinition, run handler) {
	r.order = append(r.order, def.Name)
	r.tools[def.Name] = tool{def: def, run: run}
}

// Definitions returns the schemas advertised to the model, in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Dispatch runs the named tool with a JSON-encoded argument object.
// Tool failures are returned as an error Result; the returned error is
// non-nil only when name is not registered.
func (r *Registry) Dispatch(ctx context.Context, env Env, name, arguments string) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Result{}, &UnknownToolError{Name: name}
	}
	if env.Order == nil {
		return Result{Err: "no conversation context available"}, nil
	}

	raw := json.RawMessage(strings.TrimSpace(arguments))
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	r.logger.Info("Calling tool", "tool", name, "arguments", string(raw))
	value, err := t.run(ctx, env, raw)
	if err != nil {
		r.logger.Error("Tool failed", "tool", name, "error", err)
		return Result{Err: err.Error()}, nil
	}
	r.logResult(name, value)
	return Result{Value: value}, nil
}

func (r *Registry) logResult(name string, value any) {
	switch v := value.(type) {
	case []catalog.Product:
		r.logger.Info("Tool returned products", "tool", name, "count", len(v))
	case *catalog.QuoteResponse:
		r.logger.Info("Tool returned quote", "tool", name, "price", v.Price, "currency", v.Currency)
	default:
		r.logger.Info("Tool returned result", "tool", name)
	}
}

// decodeArgs unmarshals the argument object of tool into dst.
func decodeArgs(toolName string, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &ArgumentError{Tool: toolName, Argument: typeErr.Field, Err: err}
		}
		return &ArgumentError{Tool: toolName, Err: err}
	}
	return nil
}

func newItemReference() string {
	return "quote_" + uuid.NewString()[:8]
}

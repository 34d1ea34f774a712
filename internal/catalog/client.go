package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the CloudCore 1.0 API root.
const DefaultBaseURL = "https://api.cloudprinter.com/cloudcore/1.0"

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 16 << 20

// Client calls the pricing API. Every call is a single POST with the API key
// in the JSON body; failures are never retried.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("catalog: API key is required")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Products returns the full catalog of the account.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.post(ctx, "products", nil, &products); err != nil {
		return nil, err
	}
	c.logger.Info("Retrieved products", "count", len(products))
	return products, nil
}

// ProductDetail returns options and specs of one product.
func (c *Client) ProductDetail(ctx context.Context, reference string) (*ProductDetail, error) {
	var detail ProductDetail
	if err := c.post(ctx, "products/info", map[string]string{"reference": reference}, &detail); err != nil {
		return nil, err
	}
	c.logger.Info("Retrieved product info", "reference", reference, "options", len(detail.Options))
	return &detail, nil
}

// Quote prices an order without placing it.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	var quote QuoteResponse
	if err := c.post(ctx, "orders/quote", req, &quote); err != nil {
		return nil, err
	}
	c.logger.Info("Retrieved quote", "price", quote.Price, "currency", quote.Currency)
	return &quote, nil
}

// ShippingLevels lists the delivery speeds of the account.
func (c *Client) ShippingLevels(ctx context.Context) ([]ShippingLevel, error) {
	var levels []ShippingLevel
	if err := c.post(ctx, "shipping/levels", nil, &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

// ShippingCountries lists destination countries.
func (c *Client) ShippingCountries(ctx context.Context) ([]ShippingCountry, error) {
	var countries []ShippingCountry
	if err := c.post(ctx, "shipping/countries", nil, &countries); err != nil {
		return nil, err
	}
	return countries, nil
}

// ShippingStates lists the states of a country (ISO 3166-1 alpha-2).
func (c *Client) ShippingStates(ctx context.Context, countryRef string) ([]ShippingState, error) {
	var states []ShippingState
	if err := c.post(ctx, "shipping/states", map[string]string{"country_reference": countryRef}, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// post sends payload to endpoint with the API key injected and decodes the
// response into out.
func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := c.encode(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", endpoint, err)
	}

	url := c.baseURL + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("Sending catalog request", "endpoint", endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Info("Received catalog response", "endpoint", endpoint, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Error("Catalog API returned error status", "endpoint", endpoint, "status", resp.StatusCode, "body", string(data))
		return &RemoteError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Endpoint: endpoint, Err: err}
	}
	return nil
}

// encode marshals payload as a JSON object and sets its apikey member,
// replacing any key the payload already carried.
func (c *Client) encode(payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("payload is not a JSON object: %w", err)
		}
		delete(fields, "apikey")
	}
	if c.logger.Enabled(context.Background(), slog.LevelDebug) {
		redacted, _ := json.Marshal(fields)
		c.logger.Debug("Catalog request payload", "payload", string(redacted))
	}
	key, err := json.Marshal(c.apiKey)
	if err != nil {
		return nil, err
	}
	fields["apikey"] = key
	return json.Marshal(fields)
}

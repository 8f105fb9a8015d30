// Package delivery wraps the Pickup Mtaani last-mile logistics API.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/circuitbreaker"
)

type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Area struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	ZoneID string `json:"zone_id,omitempty"`
}

type Location struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	AreaID string `json:"area_id,omitempty"`
}

type Agent struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LocationID string `json:"location_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type Destination struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Charge struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type Package struct {
	ID           string          `json:"id"`
	TrackingCode string          `json:"tracking_code"`
	Status       string          `json:"status"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
}

type CreatePackageParams struct {
	OriginID       string          `json:"origin_id"`
	DestinationID  string          `json:"destination_id"`
	RecipientName  string          `json:"recipient_name"`
	RecipientPhone string          `json:"recipient_phone"`
	Description    string          `json:"package_description"`
	Weight         decimal.Decimal `json:"weight,omitempty"`
	Value          decimal.Decimal `json:"value,omitempty"`
	PaymentMode    string          `json:"payment_mode"`
	CODAmount      decimal.Decimal `json:"cod_amount,omitempty"`
}

type UpdatePackageParams struct {
	ID             string `json:"id"`
	RecipientName  string `json:"recipient_name,omitempty"`
	RecipientPhone string `json:"recipient_phone,omitempty"`
	DestinationID  string `json:"destination_id,omitempty"`
}

type BusinessProfile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Client is an authenticated wrapper over the logistics HTTP API. Every
// request carries the static API key; any non-2xx response becomes an error
// carrying the provider's message.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	cache      *LocationCache
	logger     *logrus.Logger
}

func NewClient(baseURL, apiKey string, breaker *circuitbreaker.Breaker, cache *LocationCache, logger *logrus.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("pickup mtaani: API key is required")
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: breaker,
		cache:   cache,
		logger:  logger,
	}, nil
}

func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	var zones []Zone
	if c.cache.get(ctx, "zones", &zones) {
		return zones, nil
	}
	if err := c.do(ctx, "GET", "/locations/zones", nil, nil, &zones); err != nil {
		return nil, err
	}
	c.cache.set(ctx, "zones", zones)
	return zones, nil
}

func (c *Client) ListAreas(ctx context.Context) ([]Area, error) {
	var areas []Area
	if c.cache.get(ctx, "areas", &areas) {
		return areas, nil
	}
	if err := c.do(ctx, "GET", "/locations/areas", nil, nil, &areas); err != nil {
		return nil, err
	}
	c.cache.set(ctx, "areas", areas)
	return areas, nil
}

func (c *Client) ListAgentLocations(ctx context.Context, areaID string) ([]Location, error) {
	query := url.Values{}
	if areaID != "" {
		query.Set("areaId", areaID)
	}

	cacheKey := "locations:" + areaID
	var locations []Location
	if c.cache.get(ctx, cacheKey, &locations) {
		return locations, nil
	}
	if err := c.do(ctx, "GET", "/locations", query, nil, &locations); err != nil {
		return nil, err
	}
	c.cache.set(ctx, cacheKey, locations)
	return locations, nil
}

func (c *Client) ListAgents(ctx context.Context, locationID string) ([]Agent, error) {
	query := url.Values{}
	query.Set("locationId", locationID)

	cacheKey := "agents:" + locationID
	var agents []Agent
	if c.cache.get(ctx, cacheKey, &agents) {
		return agents, nil
	}
	if err := c.do(ctx, "GET", "/locations/agents", query, nil, &agents); err != nil {
		return nil, err
	}
	c.cache.set(ctx, cacheKey, agents)
	return agents, nil
}

func (c *Client) ListDoorstepDestinations(ctx context.Context, areaID, search string) ([]Destination, error) {
	query := url.Values{}
	query.Set("areaId", areaID)
	if search != "" {
		query.Set("search", search)
	}

	var destinations []Destination
	if err := c.do(ctx, "GET", "/locations/doorstep-destinations", query, nil, &destinations); err != nil {
		return nil, err
	}
	return destinations, nil
}

func (c *Client) AgentDeliveryCharge(ctx context.Context, originID, destinationID string, weight decimal.Decimal) (*Charge, error) {
	return c.deliveryCharge(ctx, "/delivery-charge/agent-package", originID, destinationID, weight)
}

func (c *Client) DoorstepDeliveryCharge(ctx context.Context, originID, destinationID string, weight decimal.Decimal) (*Charge, error) {
	return c.deliveryCharge(ctx, "/delivery-charge/doorstep-package", originID, destinationID, weight)
}

func (c *Client) deliveryCharge(ctx context.Context, path, originID, destinationID string, weight decimal.Decimal) (*Charge, error) {
	query := url.Values{}
	query.Set("origin", originID)
	query.Set("destination", destinationID)
	if weight.Sign() > 0 {
		query.Set("weight", weight.String())
	}

	var charge Charge
	if err := c.do(ctx, "GET", path, query, nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

func (c *Client) CreatePackage(ctx context.Context, params CreatePackageParams) (*Package, error) {
	c.logger.WithFields(logrus.Fields{
		"origin":       params.OriginID,
		"destination":  params.DestinationID,
		"payment_mode": params.PaymentMode,
	}).Info("Creating delivery package")

	var pkg Package
	if err := c.do(ctx, "POST", "/packages/agent-agent", nil, params, &pkg); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"package_id":    pkg.ID,
		"tracking_code": pkg.TrackingCode,
	}).Info("Delivery package created")

	return &pkg, nil
}

func (c *Client) GetPackage(ctx context.Context, id string) (*Package, error) {
	query := url.Values{}
	query.Set("id", id)

	var pkg Package
	if err := c.do(ctx, "GET", "/packages/agent-agent", query, nil, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (c *Client) ListMyPackages(ctx context.Context) ([]Package, error) {
	var packages []Package
	if err := c.do(ctx, "GET", "/packages/agent-agent/mine", nil, nil, &packages); err != nil {
		return nil, err
	}
	return packages, nil
}

func (c *Client) UpdatePackage(ctx context.Context, params UpdatePackageParams) (*Package, error) {
	var pkg Package
	if err := c.do(ctx, "PUT", "/packages/agent-update", nil, params, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (c *Client) DeletePackage(ctx context.Context, id string) error {
	query := url.Values{}
	query.Set("id", id)
	return c.do(ctx, "DELETE", "/packages/agent-package", query, nil, nil)
}

// PayDeliverySTK triggers the provider's own mobile-money prompt against an
// existing package, as opposed to the storefront's payment facade.
func (c *Client) PayDeliverySTK(ctx context.Context, packageID, phone string) error {
	body := map[string]string{
		"package_id": packageID,
		"phone":      phone,
	}
	return c.do(ctx, "PUT", "/payment/pay-delivery-stk", nil, body, nil)
}

func (c *Client) VerifyPayment(ctx context.Context, packageID string) (map[string]interface{}, error) {
	body := map[string]string{"package_id": packageID}
	var result map[string]interface{}
	if err := c.do(ctx, "PUT", "/payment/verify-payment", nil, body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) GetBusinessProfile(ctx context.Context) (*BusinessProfile, error) {
	var profile BusinessProfile
	if err := c.do(ctx, "GET", "/business/profile", nil, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) UpdateBusinessProfile(ctx context.Context, profile BusinessProfile) error {
	return c.do(ctx, "PUT", "/business/profile", nil, profile, nil)
}

// RegisterWebhook tells the provider where to deliver package status events.
func (c *Client) RegisterWebhook(ctx context.Context, webhookURL string) error {
	body := map[string]string{"url": webhookURL}
	return c.do(ctx, "POST", "/business/webhook", nil, body, nil)
}

type providerError struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.breaker.Execute(func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request to pickup mtaani: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			var pe providerError
			json.NewDecoder(resp.Body).Decode(&pe)
			if pe.Message == "" {
				pe.Message = http.StatusText(resp.StatusCode)
			}
			return fmt.Errorf("pickup mtaani returned status %d: %s", resp.StatusCode, pe.Message)
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode pickup mtaani response: %w", err)
		}
		return nil
	})
}

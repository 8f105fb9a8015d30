package payment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/pkg/models"
)

type TinyPesaConfig struct {
	BaseURL string
	APIKey  string
}

// TinyPesaClient wraps the TinyPesa express STK API. Authentication is a
// static Apikey header on every request.
type TinyPesaClient struct {
	config     TinyPesaConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewTinyPesaClient(config TinyPesaConfig, logger *logrus.Logger) (*TinyPesaClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("tinypesa: API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://tinypesa.com"
	}

	return &TinyPesaClient{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

func (c *TinyPesaClient) Name() string { return "tinypesa" }

type tinyPesaInitResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

func (c *TinyPesaClient) Initiate(amount decimal.Decimal, phone, reference, description string) (*models.InitiateResult, error) {
	form := url.Values{}
	form.Set("amount", amount.Round(0).String())
	form.Set("msisdn", phone)
	form.Set("account_no", reference)

	req, err := http.NewRequest("POST",
		c.config.BaseURL+"/api/v1/express/initialize",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Apikey", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TinyPesa: %w", err)
	}
	defer resp.Body.Close()

	var tr tinyPesaInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode TinyPesa response: %w", err)
	}

	if !tr.Success {
		c.logger.WithFields(logrus.Fields{
			"reference": reference,
			"message":   tr.Message,
		}).Warn("TinyPesa rejected STK request")
		return &models.InitiateResult{Success: false, Message: tr.Message}, nil
	}

	c.logger.WithFields(logrus.Fields{
		"request_id": tr.RequestID,
		"reference":  reference,
	}).Info("TinyPesa STK request accepted")

	return &models.InitiateResult{
		Success:   true,
		RequestID: tr.RequestID,
		Message:   tr.Message,
	}, nil
}

type tinyPesaStatusResponse struct {
	Status         string          `json:"status"`
	MpesaReference string          `json:"mpesa_reference"`
	Amount         decimal.Decimal `json:"amount"`
	Message        string          `json:"message"`
}

// CheckStatus passes the provider's status string through untranslated.
func (c *TinyPesaClient) CheckStatus(requestID string) (*models.StatusResult, error) {
	req, err := http.NewRequest("GET",
		c.config.BaseURL+"/api/v1/express/get_status/"+url.PathEscape(requestID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Apikey", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TinyPesa: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TinyPesa returned status %d", resp.StatusCode)
	}

	var tr tinyPesaStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode TinyPesa response: %w", err)
	}

	return &models.StatusResult{
		Success:        true,
		Status:         tr.Status,
		TransactionRef: tr.MpesaReference,
		Amount:         tr.Amount,
		Message:        tr.Message,
	}, nil
}

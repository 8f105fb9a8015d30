package payment

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/pkg/models"
)

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// MpesaClient talks to the Daraja STK push API. The OAuth access token is
// cached in memory until shortly before its expiry.
type MpesaClient struct {
	config     MpesaConfig
	httpClient *http.Client
	logger     *logrus.Logger

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewMpesaClient(config MpesaConfig, logger *logrus.Logger) (*MpesaClient, error) {
	if config.ConsumerKey == "" || config.ConsumerSecret == "" {
		return nil, fmt.Errorf("mpesa: consumer key and secret are required")
	}
	if config.ShortCode == "" || config.Passkey == "" {
		return nil, fmt.Errorf("mpesa: short code and passkey are required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://sandbox.safaricom.co.ke"
	}

	return &MpesaClient{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

func (c *MpesaClient) Name() string { return "mpesa" }

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorMessage        string `json:"errorMessage"`
}

func (c *MpesaClient) Initiate(amount decimal.Decimal, phone, reference, description string) (*models.InitiateResult, error) {
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(c.config.ShortCode + c.config.Passkey + timestamp))

	if description == "" {
		description = "Order payment"
	}

	payload := map[string]interface{}{
		"BusinessShortCode": c.config.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount.Round(0).String(),
		"PartyA":            phone,
		"PartyB":            c.config.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.config.CallbackURL,
		"AccountReference":  reference,
		"TransactionDesc":   description,
	}

	var resp stkPushResponse
	if err := c.post("/mpesa/stkpush/v1/processrequest", token, payload, &resp); err != nil {
		return nil, err
	}

	if resp.ResponseCode != "0" {
		message := resp.ResponseDescription
		if message == "" {
			message = resp.ErrorMessage
		}
		c.logger.WithFields(logrus.Fields{
			"response_code": resp.ResponseCode,
			"reference":     reference,
		}).Warn("STK push rejected by Daraja")
		return &models.InitiateResult{Success: false, Message: message}, nil
	}

	c.logger.WithFields(logrus.Fields{
		"merchant_request_id": resp.MerchantRequestID,
		"checkout_request_id": resp.CheckoutRequestID,
		"reference":           reference,
	}).Info("STK push accepted")

	return &models.InitiateResult{
		Success:           true,
		RequestID:         resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		Message:           resp.CustomerMessage,
	}, nil
}

type stkQueryResponse struct {
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
	ErrorMessage string `json:"errorMessage"`
}

func (c *MpesaClient) CheckStatus(requestID string) (*models.StatusResult, error) {
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(c.config.ShortCode + c.config.Passkey + timestamp))

	payload := map[string]interface{}{
		"BusinessShortCode": c.config.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": requestID,
	}

	var resp stkQueryResponse
	if err := c.post("/mpesa/stkpushquery/v1/query", token, payload, &resp); err != nil {
		return nil, err
	}

	code, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		return &models.StatusResult{
			Success: true,
			Status:  models.PaymentStatusUnknown,
			Message: resp.ResultDesc,
		}, nil
	}

	return &models.StatusResult{
		Success: true,
		Status:  MapResultCode(code),
		Message: resp.ResultDesc,
	}, nil
}

// MapResultCode folds Daraja numeric result codes into the facade's status
// vocabulary: 0 success, 1 and 1032 failed, 1037 pending, anything else
// unknown.
func MapResultCode(code int) string {
	switch code {
	case 0:
		return models.PaymentStatusSuccess
	case 1, 1032:
		return models.PaymentStatusFailed
	case 1037:
		return models.PaymentStatusPending
	default:
		return models.PaymentStatusUnknown
	}
}

func (c *MpesaClient) post(path, token string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", c.config.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to Daraja: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode Daraja response: %w", err)
	}

	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *MpesaClient) token() (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequest("GET",
		c.config.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.config.ConsumerKey, c.config.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	expiresIn, err := strconv.Atoi(tr.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}

	c.accessToken = tr.AccessToken
	// Refresh a minute early so an in-flight STK push never carries a
	// token that expires mid-request.
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn-60) * time.Second)

	return c.accessToken, nil
}

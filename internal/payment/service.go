// Package payment exposes a provider-agnostic push-payment facade over the
// M-Pesa Daraja and TinyPesa STK APIs.
package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/circuitbreaker"
	"github.com/billmalea/devshop-checkout/internal/phone"
	"github.com/billmalea/devshop-checkout/pkg/models"
)

// Provider is one backing push-payment API.
type Provider interface {
	Name() string
	Initiate(amount decimal.Decimal, phone, reference, description string) (*models.InitiateResult, error)
	CheckStatus(requestID string) (*models.StatusResult, error)
}

type Config struct {
	// Provider selects the backing API: "tinypesa" (default) or "mpesa".
	Provider string
	Mpesa    MpesaConfig
	TinyPesa TinyPesaConfig
}

// Service is the seam that keeps the checkout orchestrator provider-agnostic.
// Its methods never return a Go error: provider rejections and transport
// failures alike surface as {Success:false, Message}.
type Service struct {
	provider Provider
	breaker  *circuitbreaker.Breaker
	logger   *logrus.Logger
}

func NewService(config Config, breaker *circuitbreaker.Breaker, logger *logrus.Logger) (*Service, error) {
	var provider Provider
	var err error

	switch config.Provider {
	case "", "tinypesa":
		provider, err = NewTinyPesaClient(config.TinyPesa, logger)
	case "mpesa":
		provider, err = NewMpesaClient(config.Mpesa, logger)
	default:
		return nil, fmt.Errorf("unknown payment provider %q", config.Provider)
	}
	if err != nil {
		return nil, err
	}

	return &Service{
		provider: provider,
		breaker:  breaker,
		logger:   logger,
	}, nil
}

func (s *Service) ProviderName() string {
	return s.provider.Name()
}

type InitiateParams struct {
	Amount      decimal.Decimal
	PhoneNumber string
	Reference   string
	Description string
}

func (s *Service) InitiatePayment(params InitiateParams) *models.InitiateResult {
	normalized := phone.Normalize(params.PhoneNumber)

	s.logger.WithFields(logrus.Fields{
		"provider":  s.provider.Name(),
		"phone":     normalized,
		"amount":    params.Amount.String(),
		"reference": params.Reference,
	}).Info("Initiating push payment")

	var result *models.InitiateResult
	err := s.breaker.Execute(func() error {
		var callErr error
		result, callErr = s.provider.Initiate(params.Amount, normalized, params.Reference, params.Description)
		return callErr
	})
	if err != nil {
		s.logger.WithError(err).WithField("provider", s.provider.Name()).
			Error("Push payment initiation failed")
		return &models.InitiateResult{Success: false, Message: err.Error()}
	}

	return result
}

func (s *Service) CheckPaymentStatus(requestID string) *models.StatusResult {
	var result *models.StatusResult
	err := s.breaker.Execute(func() error {
		var callErr error
		result, callErr = s.provider.CheckStatus(requestID)
		return callErr
	})
	if err != nil {
		s.logger.WithError(err).WithField("provider", s.provider.Name()).
			Error("Payment status check failed")
		return &models.StatusResult{
			Success: false,
			Status:  models.PaymentStatusUnknown,
			Message: err.Error(),
		}
	}

	return result
}

// Package checkout runs the multi-step checkout workflow: persist the
// order, create the delivery package, initiate payment. Steps after the
// first failure still run; the customer always reaches confirmation and
// each step reports its own outcome.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/delivery"
	"github.com/billmalea/devshop-checkout/internal/events"
	"github.com/billmalea/devshop-checkout/internal/metrics"
	"github.com/billmalea/devshop-checkout/internal/payment"
	"github.com/billmalea/devshop-checkout/internal/phone"
	"github.com/billmalea/devshop-checkout/pkg/models"
)

// OriginSettingKey holds the store's fixed drop-off point, configured from
// the admin back-office.
const OriginSettingKey = "pickup_mtaani_origin_id"

const (
	StepValidate        = "validate"
	StepPersistPhone    = "persist_phone"
	StepCreateOrder     = "create_order"
	StepCreatePackage   = "create_package"
	StepInitiatePayment = "initiate_payment"
	StepFinalize        = "finalize"
)

type Store interface {
	SaveOrder(order *models.Order, items []models.OrderItem) error
	DecrementStock(productID string, quantity int) error
	UpdateOrderStatus(orderID, status string) error
	SaveDeliveryPackage(pkg *models.DeliveryPackage) error
	GetUserPhone(userID string) (string, error)
	SetUserPhone(userID, phoneNumber string) error
	GetSetting(key string) (string, error)
}

type PaymentService interface {
	InitiatePayment(params payment.InitiateParams) *models.InitiateResult
	ProviderName() string
}

type DeliveryClient interface {
	CreatePackage(ctx context.Context, params delivery.CreatePackageParams) (*delivery.Package, error)
}

type EventPublisher interface {
	PublishOrderCreated(event events.OrderCreatedEvent) error
}

type Orchestrator struct {
	store    Store
	payments PaymentService
	delivery DeliveryClient
	producer EventPublisher
	// fallbackFee is charged when checkout arrives without a resolved
	// delivery fee.
	fallbackFee decimal.Decimal
	logger      *logrus.Logger
}

func NewOrchestrator(store Store, payments PaymentService, deliveryClient DeliveryClient, producer EventPublisher, fallbackFee decimal.Decimal, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		store:       store,
		payments:    payments,
		delivery:    deliveryClient,
		producer:    producer,
		fallbackFee: fallbackFee,
		logger:      logger,
	}
}

// Checkout executes the workflow. Only validation failures abort; every
// later step records its outcome and the flow continues, landing the order
// in whatever partial state results. Reconciliation leans on the webhook
// handlers and the step reports.
func (o *Orchestrator) Checkout(ctx context.Context, req *models.CheckoutRequest) *models.CheckoutResponse {
	if msg := o.validate(req); msg != "" {
		metrics.RecordCheckoutStep(StepValidate, false)
		return &models.CheckoutResponse{Success: false, Message: msg}
	}
	metrics.RecordCheckoutStep(StepValidate, true)

	var steps []models.StepReport
	report := func(step string, success bool, message string) {
		steps = append(steps, models.StepReport{Step: step, Success: success, Message: message})
		metrics.RecordCheckoutStep(step, success)
	}

	o.persistPhone(req, report)

	subtotal := decimal.Zero
	for _, item := range req.Items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	deliveryFee := req.DeliveryFee
	if deliveryFee.Sign() <= 0 {
		deliveryFee = o.fallbackFee
	}
	total := subtotal.Add(deliveryFee)

	order := o.createOrder(req, total, report)

	orderID := ""
	reference := ""
	if order != nil {
		orderID = order.ID
		reference = order.CorrelationID
	}

	o.createPackage(ctx, req, orderID, total, report)

	if req.PaymentMethod == models.PaymentMethodMpesa {
		result := o.payments.InitiatePayment(payment.InitiateParams{
			Amount:      total,
			PhoneNumber: req.PhoneNumber,
			Reference:   reference,
			Description: "Order payment",
		})
		metrics.RecordPaymentInitiated(o.payments.ProviderName(), result.Success)
		report(StepInitiatePayment, result.Success, result.Message)
	}

	if orderID != "" {
		if err := o.store.UpdateOrderStatus(orderID, models.OrderStatusProcessing); err != nil {
			o.logger.WithError(err).WithField("order_id", orderID).
				Error("Failed to move order to processing")
			report(StepFinalize, false, err.Error())
		} else {
			report(StepFinalize, true, "")
		}
	}

	// The customer reaches confirmation no matter which steps failed.
	return &models.CheckoutResponse{
		Success: true,
		Message: "Order confirmed",
		OrderID: orderID,
		Status:  models.OrderStatusProcessing,
		Steps:   steps,
	}
}

func (o *Orchestrator) validate(req *models.CheckoutRequest) string {
	if len(req.Items) == 0 {
		return "Cart is empty"
	}

	switch req.ShippingMethod {
	case models.ShippingMethodPickupAgent, models.ShippingMethodDoorstepDelivery:
		if req.DestinationID == "" {
			return "Select a pickup agent or delivery location"
		}
	default:
		return "Unknown shipping method"
	}

	switch req.PaymentMethod {
	case models.PaymentMethodMpesa:
		if !phone.IsSafaricom(req.PhoneNumber) {
			return "Enter a valid Safaricom phone number"
		}
	case models.PaymentMethodCOD:
	default:
		return "Unknown payment method"
	}

	return ""
}

// persistPhone stores the checkout phone number on the user profile if none
// is set. Failures are logged only; the rest of the flow does not depend on
// this write.
func (o *Orchestrator) persistPhone(req *models.CheckoutRequest, report func(string, bool, string)) {
	if req.UserID == "" {
		return
	}

	existing, err := o.store.GetUserPhone(req.UserID)
	if err != nil {
		o.logger.WithError(err).WithField("user_id", req.UserID).Warn("Failed to read user phone")
		return
	}
	if existing != "" {
		return
	}

	if err := o.store.SetUserPhone(req.UserID, phone.Normalize(req.PhoneNumber)); err != nil {
		o.logger.WithError(err).WithField("user_id", req.UserID).Warn("Failed to persist user phone")
		return
	}
	report(StepPersistPhone, true, "")
}

func (o *Orchestrator) createOrder(req *models.CheckoutRequest, total decimal.Decimal, report func(string, bool, string)) *models.Order {
	order := &models.Order{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		TotalAmount:     total,
		Status:          models.OrderStatusPending,
		PhoneNumber:     phone.Normalize(req.PhoneNumber),
		PaymentMethod:   req.PaymentMethod,
		ShippingMethod:  req.ShippingMethod,
		ShippingAddress: req.ShippingAddress,
		CorrelationID:   uuid.New().String(),
		CreatedAt:       time.Now(),
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, cartItem := range req.Items {
		items = append(items, models.OrderItem{
			OrderID:   order.ID,
			ProductID: cartItem.ProductID,
			Quantity:  cartItem.Quantity,
			UnitPrice: cartItem.UnitPrice,
		})
	}

	if err := o.store.SaveOrder(order, items); err != nil {
		o.logger.WithError(err).Error("Failed to save order")
		report(StepCreateOrder, false, err.Error())
		// Later steps still run without a persisted order; support
		// tooling reconciles stray packages and payments afterwards.
		return nil
	}

	for _, item := range items {
		if err := o.store.DecrementStock(item.ProductID, item.Quantity); err != nil {
			// Known consistency gap: a failed decrement is logged, not
			// retried and not rolled back.
			o.logger.WithError(err).WithFields(logrus.Fields{
				"order_id":   order.ID,
				"product_id": item.ProductID,
			}).Warn("Stock decrement failed")
		}
	}

	if o.producer != nil {
		event := events.OrderCreatedEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			TotalAmount:   order.TotalAmount,
			PaymentMethod: order.PaymentMethod,
			CreatedAt:     order.CreatedAt,
		}
		if err := o.producer.PublishOrderCreated(event); err != nil {
			o.logger.WithError(err).Error("Failed to publish order created event")
		}
	}

	report(StepCreateOrder, true, "")
	return order
}

func (o *Orchestrator) createPackage(ctx context.Context, req *models.CheckoutRequest, orderID string, total decimal.Decimal, report func(string, bool, string)) {
	if orderID == "" {
		return
	}

	originID, err := o.store.GetSetting(OriginSettingKey)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to read origin location setting")
		return
	}
	if originID == "" {
		// No configured drop-off point means the store has not enabled
		// the delivery network yet.
		return
	}

	params := delivery.CreatePackageParams{
		OriginID:       originID,
		DestinationID:  req.DestinationID,
		RecipientName:  req.UserID,
		RecipientPhone: phone.Normalize(req.PhoneNumber),
		Description:    packageDescription(req.Items),
		PaymentMode:    models.PaymentModePrepaid,
	}
	if req.PaymentMethod == models.PaymentMethodCOD {
		params.PaymentMode = models.PaymentModeCOD
		params.CODAmount = total
	}

	created, err := o.delivery.CreatePackage(ctx, params)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).
			Error("Failed to create delivery package")
		report(StepCreatePackage, false, err.Error())
		return
	}

	pkg := &models.DeliveryPackage{
		ID:           uuid.New().String(),
		OrderID:      orderID,
		ExternalID:   created.ID,
		TrackingCode: created.TrackingCode,
		Status:       created.Status,
		DeliveryFee:  created.DeliveryFee,
		PaymentMode:  params.PaymentMode,
		UpdatedAt:    time.Now(),
	}
	if err := o.store.SaveDeliveryPackage(pkg); err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).
			Error("Failed to persist delivery package record")
		report(StepCreatePackage, false, err.Error())
		return
	}

	report(StepCreatePackage, true, created.TrackingCode)
}

func packageDescription(items []models.CartItem) string {
	count := 0
	for _, item := range items {
		count += item.Quantity
	}
	if count == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", count)
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"catering-service/internal/apperror"
	"catering-service/internal/models"
	"catering-service/internal/payment"
	"catering-service/internal/security"
	"catering-service/internal/store"
	"catering-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CheckoutConfig holds the business settings of the checkout flow
type CheckoutConfig struct {
	DeliveryFee decimal.Decimal
	LockTTL     time.Duration
}

// CheckoutService validates carts and turns them into pending orders
type CheckoutService struct {
	ledger    OrderLedger
	prices    *PriceAuthority
	processor PaymentProcessor
	locker    CheckoutLocker
	csrf      *security.CSRFGuard
	pii       *security.PIICodec
	events    eventEmitter
	cfg       CheckoutConfig
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	ledger OrderLedger,
	prices *PriceAuthority,
	processor PaymentProcessor,
	locker CheckoutLocker,
	publisher EventPublisher,
	csrf *security.CSRFGuard,
	pii *security.PIICodec,
	cfg CheckoutConfig,
) *CheckoutService {
	logger := util.Logger("checkout")
	return &CheckoutService{
		ledger:    ledger,
		prices:    prices,
		processor: processor,
		locker:    locker,
		csrf:      csrf,
		pii:       pii,
		events:    eventEmitter{publisher: publisher, logger: logger},
		cfg:       cfg,
		logger:    logger,
	}
}

// CheckoutLineItem is a cart row as submitted by the storefront
type CheckoutLineItem struct {
	ProductID      string          `json:"productId"`
	Title          string          `json:"title"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int             `json:"quantity"`
	IsDeliveryLine bool            `json:"isDeliveryLine,omitempty"`
}

// CheckoutRequest is the body of POST /checkout
type CheckoutRequest struct {
	CSRFToken string `json:"csrfToken"`

	Name      string `json:"name"`
	Surname   string `json:"surname"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	Notes     string `json:"notes"`
	PromoCode string `json:"promoCode"`

	DeliveryType       string `json:"deliveryType"`
	DeliveryTimeOption string `json:"deliveryTimeOption"`
	DeliveryDate       string `json:"deliveryDate"`
	DeliveryTime       string `json:"deliveryTime"`
	Locale             string `json:"locale"`

	LineItems   []CheckoutLineItem `json:"line_items"`
	DeliveryFee decimal.Decimal    `json:"deliveryFee"`
	TotalAmount decimal.Decimal    `json:"totalAmount"`
}

// CheckoutResponse is returned once the payment link exists
type CheckoutResponse struct {
	PaymentURL        string `json:"paymentUrl"`
	MerchantReference string `json:"merchantReference"`
}

// SubmitCheckout validates req, stores or refreshes the pending order and
// requests a payment link. Validation failures persist nothing.
func (s *CheckoutService) SubmitCheckout(ctx context.Context, req *CheckoutRequest, csrfCookie string) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.SubmitCheckout")
	defer span.End()

	resp, result, err := s.submit(ctx, req, csrfCookie)
	if err != nil {
		result = apperror.As(err).Code()
		util.RecordError(span, err)
	}
	util.CheckoutSubmissionsTotal.WithLabelValues(result).Inc()

	return resp, err
}

func (s *CheckoutService) submit(ctx context.Context, req *CheckoutRequest, csrfCookie string) (*CheckoutResponse, string, error) {
	if err := s.csrf.Verify(csrfCookie, req.CSRFToken); err != nil {
		return nil, "", apperror.Forbidden("invalid session, reload the page and try again")
	}

	normalizeRequest(req)

	deliveryType, timeOption, err := validateRequest(req)
	if err != nil {
		return nil, "", err
	}

	fee := DeliveryFeeFor(deliveryType, s.cfg.DeliveryFee)
	if !amountsMatch(req.DeliveryFee, fee) {
		return nil, "", apperror.BadRequest("fee mismatch: submitted %s, expected %s",
			req.DeliveryFee.StringFixed(2), fee.StringFixed(2))
	}

	lines, err := s.priceLines(ctx, req.LineItems)
	if err != nil {
		return nil, "", err
	}

	totals := ComputeTotals(lines, deliveryType, s.cfg.DeliveryFee)
	if !amountsMatch(req.TotalAmount, totals.TotalAmount) {
		return nil, "", apperror.TotalMismatch(req.TotalAmount.StringFixed(2), totals.TotalAmount.StringFixed(2))
	}
	if deliveryType == models.DeliveryTypeDelivery {
		lines = append(lines, DeliveryLine(totals.DeliveryFee))
	}

	clientHash := s.pii.Fingerprint(req.Name, req.Surname, req.Phone, req.Email, string(deliveryType))

	release, err := s.lock(ctx, clientHash)
	if err != nil {
		return nil, "", err
	}
	defer release()

	plain := models.Customer{
		Name:      req.Name,
		Surname:   req.Surname,
		Phone:     req.Phone,
		Email:     req.Email,
		Address:   req.Address,
		Notes:     req.Notes,
		PromoCode: req.PromoCode,
	}
	encrypted, err := s.pii.EncryptCustomer(plain)
	if err != nil {
		return nil, "", apperror.Internal("failed to encrypt customer data", err)
	}

	order := &models.Order{
		Customer:           encrypted,
		DeliveryType:       deliveryType,
		DeliveryTimeOption: timeOption,
		DeliveryDate:       req.DeliveryDate,
		DeliveryTime:       req.DeliveryTime,
		Locale:             req.Locale,
		LineItems:          lines,
		ProductTotal:       totals.ProductTotal,
		DeliveryFee:        totals.DeliveryFee,
		TotalAmount:        totals.TotalAmount,
		ClientHash:         clientHash,
	}

	created, err := s.ledger.UpsertPendingOrder(ctx, order)
	if err != nil {
		return nil, "", apperror.Internal("failed to persist order", err)
	}

	result := "updated"
	eventType := models.EventTypeCheckoutUpdated
	if created {
		result = "created"
		eventType = models.EventTypeCheckoutCreated
		util.OrdersCreatedTotal.Inc()
	} else {
		util.OrdersUpdatedTotal.Inc()
	}
	s.logger.Info("Pending order stored",
		zap.String("merchant_reference", order.MerchantReference),
		zap.Bool("created", created),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)))
	s.events.emit(ctx, eventType, order, "")

	paymentURL, err := s.requestPaymentLink(ctx, order, plain)
	if err != nil {
		return nil, "", err
	}

	if err := s.ledger.SetPaymentURL(ctx, order.MerchantReference, order.CheckoutVersion, paymentURL); err != nil {
		if errors.Is(err, store.ErrStaleCheckout) {
			s.logger.Warn("Discarding payment link of superseded checkout",
				zap.String("merchant_reference", order.MerchantReference),
				zap.Int64("checkout_version", order.CheckoutVersion))
			return nil, "", apperror.Unavailable("your order was changed in another submission, please retry", err)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", apperror.Internal("order is no longer pending", err)
		}
		return nil, "", apperror.Internal("failed to store payment link", err)
	}
	order.PaymentURL = paymentURL

	return &CheckoutResponse{
		PaymentURL:        paymentURL,
		MerchantReference: order.MerchantReference,
	}, result, nil
}

// priceLines replaces every submitted price with the authoritative one,
// failing on the first line whose price moved. Client delivery lines are
// dropped; the server appends its own.
func (s *CheckoutService) priceLines(ctx context.Context, items []CheckoutLineItem) (models.LineItems, error) {
	lines := make(models.LineItems, 0, len(items)+1)
	for _, item := range items {
		if item.IsDeliveryLine || item.ProductID == DeliveryLineID {
			continue
		}

		quote, err := s.prices.Quote(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}

		if !amountsMatch(item.Price, quote.Price) {
			title := quote.Title
			if title == "" {
				title = item.Title
			}
			return nil, apperror.PriceMismatch(item.ProductID, title,
				item.Price.StringFixed(2), quote.Price.StringFixed(2))
		}

		lines = append(lines, models.LineItem{
			ProductID: item.ProductID,
			Title:     quote.Title,
			UnitPrice: quote.Price,
			Quantity:  item.Quantity,
		})
	}

	if len(lines) == 0 {
		return nil, apperror.BadRequest("cart is empty")
	}
	return lines, nil
}

// lock takes the per-intent checkout lock. When Redis is unreachable the
// checkout proceeds and the ledger's pending index still prevents duplicates.
func (s *CheckoutService) lock(ctx context.Context, clientHash string) (func(), error) {
	key := "checkout:" + clientHash

	token, err := s.locker.AcquireLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("Checkout lock unavailable, relying on ledger dedupe", zap.Error(err))
		return func() {}, nil
	}
	if token == "" {
		util.CheckoutLockContendedTotal.Inc()
		return nil, apperror.Unavailable("a checkout for this order is already in progress", nil)
	}

	return func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.Error(err))
		}
	}, nil
}

func (s *CheckoutService) requestPaymentLink(ctx context.Context, order *models.Order, customer models.Customer) (string, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.requestPaymentLink")
	defer span.End()

	billing := payment.BillingAddress{
		FirstName: customer.Name,
		LastName:  customer.Surname,
		Email:     customer.Email,
		Phone:     customer.Phone,
		Address:   customer.Address,
	}

	start := time.Now()
	paymentURL, err := s.processor.CreatePaymentLink(ctx, s.processor.BuildRequest(order, billing))
	util.PaymentLinkLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.RecordError(span, err)
		s.logger.Error("Payment link request failed",
			zap.String("merchant_reference", order.MerchantReference),
			zap.Error(err))

		if errors.Is(err, payment.ErrProcessorUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			util.PaymentLinkFailuresTotal.WithLabelValues("unavailable").Inc()
			return "", apperror.Unavailable("payment provider is temporarily unavailable, please retry", err)
		}
		util.PaymentLinkFailuresTotal.WithLabelValues("rejected").Inc()
		return "", apperror.Internal("payment provider rejected the order", err)
	}

	return paymentURL, nil
}

func normalizeRequest(req *CheckoutRequest) {
	for _, f := range []*string{
		&req.Name, &req.Surname, &req.Phone, &req.Email, &req.Address, &req.Notes,
		&req.PromoCode, &req.DeliveryType, &req.DeliveryTimeOption, &req.DeliveryDate,
		&req.DeliveryTime, &req.Locale,
	} {
		*f = strings.TrimSpace(*f)
	}
	if req.Locale == "" {
		req.Locale = "en"
	}
}

func validateRequest(req *CheckoutRequest) (models.DeliveryType, models.DeliveryTimeOption, error) {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"name", req.Name},
		{"surname", req.Surname},
		{"phone", req.Phone},
		{"email", req.Email},
		{"deliveryType", req.DeliveryType},
	}
	for _, f := range required {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		err := apperror.BadRequest("missing required fields: %s", strings.Join(missing, ", "))
		err.Details = map[string]interface{}{"missingFields": missing}
		return "", "", err
	}

	deliveryType, err := models.ToDeliveryType(req.DeliveryType)
	if err != nil {
		return "", "", apperror.BadRequest("invalid deliveryType %q", req.DeliveryType)
	}
	if deliveryType == models.DeliveryTypeDelivery && req.Address == "" {
		err := apperror.BadRequest("missing required fields: address")
		err.Details = map[string]interface{}{"missingFields": []string{"address"}}
		return "", "", err
	}

	timeOption := models.DeliveryTimeASAP
	switch models.DeliveryTimeOption(req.DeliveryTimeOption) {
	case "", models.DeliveryTimeASAP:
	case models.DeliveryTimeScheduled:
		if req.DeliveryDate == "" || req.DeliveryTime == "" {
			return "", "", apperror.BadRequest("scheduled orders need deliveryDate and deliveryTime")
		}
		timeOption = models.DeliveryTimeScheduled
	default:
		return "", "", apperror.BadRequest("invalid deliveryTimeOption %q", req.DeliveryTimeOption)
	}

	if len(req.LineItems) == 0 {
		return "", "", apperror.BadRequest("cart is empty")
	}
	for i, item := range req.LineItems {
		if item.IsDeliveryLine {
			continue
		}
		if item.ProductID == "" {
			return "", "", apperror.BadRequest("line item %d has no productId", i)
		}
		if item.Quantity < 1 {
			return "", "", apperror.BadRequest("line item %s has invalid quantity %d", item.ProductID, item.Quantity)
		}
	}

	return deliveryType, timeOption, nil
}

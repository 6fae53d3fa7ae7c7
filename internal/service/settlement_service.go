package service

import (
	"context"
	"errors"
	"strings"

	"catering-service/internal/apperror"
	"catering-service/internal/models"
	"catering-service/internal/notify"
	"catering-service/internal/security"
	"catering-service/internal/store"
	"catering-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/text/currency"
)

// Acknowledgement messages
const (
	AckUpdated          = "payment status updated"
	AckAbandoned        = "order abandoned"
	AckAlreadyProcessed = "already processed"
	AckIgnored          = "ignored"
)

// NotificationAck is the body returned to the processor
type NotificationAck struct {
	Message           string               `json:"message"`
	MerchantReference string               `json:"merchantReference"`
	PaymentStatus     models.PaymentStatus `json:"paymentStatus"`
	UUID              string               `json:"uuid"`
}

// SettlementService applies processor notifications to the ledger
type SettlementService struct {
	ledger   OrderLedger
	signer   *security.Signer
	pii      *security.PIICodec
	notifier PaidNotifier
	events   eventEmitter
	currency currency.Unit
	logger   *zap.Logger
}

// NewSettlementService creates a new settlement service
func NewSettlementService(
	ledger OrderLedger,
	signer *security.Signer,
	pii *security.PIICodec,
	notifier PaidNotifier,
	publisher EventPublisher,
	unit currency.Unit,
) *SettlementService {
	logger := util.Logger("settlement")
	return &SettlementService{
		ledger:   ledger,
		signer:   signer,
		pii:      pii,
		notifier: notifier,
		events:   eventEmitter{publisher: publisher, logger: logger},
		currency: unit,
		logger:   logger,
	}
}

// HandleNotification verifies orderToken and applies the status it carries.
// Every branch is safe to re-invoke: a replayed PAID never repeats the
// paid side effects and a stale status never overwrites a newer one.
func (s *SettlementService) HandleNotification(ctx context.Context, orderToken string) (*NotificationAck, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.HandleNotification")
	defer span.End()

	claims, err := s.signer.VerifyToken(strings.TrimSpace(orderToken))
	if err != nil {
		util.PaymentNotificationsTotal.WithLabelValues("unknown", "unauthorized").Inc()
		s.logger.Warn("Rejected payment notification", zap.Error(err))
		return nil, util.RecordError(span, apperror.Unauthorized("invalid notification signature", err))
	}

	if claims.MerchantReference == "" {
		util.PaymentNotificationsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, apperror.BadRequest("notification has no merchant reference")
	}

	status, err := models.FromProcessorCode(claims.PaymentStatus)
	if err != nil {
		util.PaymentNotificationsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, apperror.BadRequest("unknown payment status %q", claims.PaymentStatus)
	}

	s.logger.Info("Handling payment notification",
		zap.String("merchant_reference", claims.MerchantReference),
		zap.String("payment_status", string(status)))

	var ack *NotificationAck
	if status == models.PaymentStatusAbandoned {
		ack, err = s.abandon(ctx, claims)
	} else {
		ack, err = s.transition(ctx, claims, status)
	}
	if err != nil {
		util.PaymentNotificationsTotal.WithLabelValues(string(status), apperror.As(err).Code()).Inc()
		return nil, util.RecordError(span, err)
	}

	util.PaymentNotificationsTotal.WithLabelValues(string(status), outcomeLabel(ack.Message)).Inc()
	return ack, nil
}

func (s *SettlementService) transition(ctx context.Context, claims *security.NotificationClaims, status models.PaymentStatus) (*NotificationAck, error) {
	order, err := s.lookup(ctx, claims.MerchantReference)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus == status {
		return ackFor(AckAlreadyProcessed, order), nil
	}
	if !models.CanTransition(order.PaymentStatus, status) {
		s.logger.Info("Ignoring stale payment notification",
			zap.String("merchant_reference", order.MerchantReference),
			zap.String("current_status", string(order.PaymentStatus)),
			zap.Bool("current_terminal", order.PaymentStatus.IsTerminal()),
			zap.String("notified_status", string(status)))
		return ackFor(AckIgnored, order), nil
	}

	updated, err := s.ledger.TransitionPaymentStatus(ctx, claims.MerchantReference, status, claims.UUID)
	if err != nil {
		return nil, apperror.Internal("failed to update payment status", err)
	}
	if updated == nil {
		// a concurrent notification changed the order between read and update
		current, err := s.lookup(ctx, claims.MerchantReference)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus == status {
			return ackFor(AckAlreadyProcessed, current), nil
		}
		return ackFor(AckIgnored, current), nil
	}

	s.logger.Info("Payment status updated",
		zap.String("merchant_reference", updated.MerchantReference),
		zap.String("from", string(order.PaymentStatus)),
		zap.String("to", string(updated.PaymentStatus)),
		zap.Bool("terminal", updated.PaymentStatus.IsTerminal()))
	s.events.emit(ctx, models.EventTypePaymentStatusChanged, updated, order.PaymentStatus)

	if status == models.PaymentStatusCompleted {
		util.OrdersPaidTotal.Inc()
		s.notifyPaid(ctx, updated)
	}

	return ackFor(AckUpdated, updated), nil
}

func (s *SettlementService) abandon(ctx context.Context, claims *security.NotificationClaims) (*NotificationAck, error) {
	unpaid, err := s.ledger.AbandonOrder(ctx, claims.MerchantReference, claims.UUID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("order %s not found or no longer abandonable", claims.MerchantReference)
	}
	if err != nil {
		return nil, apperror.Internal("failed to archive abandoned order", err)
	}

	util.OrdersAbandonedTotal.Inc()
	s.logger.Info("Order moved to unpaid archive", zap.String("merchant_reference", unpaid.MerchantReference))
	s.events.emit(ctx, models.EventTypeOrderAbandoned, &unpaid.Order, "")

	return ackFor(AckAbandoned, &unpaid.Order), nil
}

func (s *SettlementService) lookup(ctx context.Context, merchantReference string) (*models.Order, error) {
	order, err := s.ledger.GetOrderByReference(ctx, merchantReference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("order %s not found", merchantReference)
	}
	if err != nil {
		return nil, apperror.Internal("failed to load order", err)
	}
	return order, nil
}

// notifyPaid runs the paid side effects. Failures are logged and never
// reach the caller: the payment is already recorded.
func (s *SettlementService) notifyPaid(ctx context.Context, order *models.Order) {
	if s.notifier == nil {
		return
	}

	ctx, span := util.StartSpan(ctx, "SettlementService.notifyPaid")
	defer span.End()

	customer := s.pii.DecryptCustomer(order.Customer)
	summary := notify.NewOrderSummary(order, customer, s.currency)

	if err := s.notifier.NotifyPaid(ctx, summary); err != nil {
		util.RecordError(span, err)
		s.logger.Warn("Paid order notifications incomplete",
			zap.String("merchant_reference", order.MerchantReference),
			zap.Error(err))
	}
}

func ackFor(message string, order *models.Order) *NotificationAck {
	return &NotificationAck{
		Message:           message,
		MerchantReference: order.MerchantReference,
		PaymentStatus:     order.PaymentStatus,
		UUID:              order.UUID,
	}
}

func outcomeLabel(message string) string {
	switch message {
	case AckAlreadyProcessed:
		return "duplicate"
	case AckIgnored:
		return "ignored"
	default:
		return "applied"
	}
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"catering-service/internal/apperror"
	"catering-service/internal/models"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pendingOrder submits the default cart and returns its merchant reference
func pendingOrder(t *testing.T, f *fixture) string {
	t.Helper()
	req, cookie := f.cart()
	resp, err := f.checkout.SubmitCheckout(context.Background(), req, cookie)
	require.NoError(t, err)
	return resp.MerchantReference
}

func TestPaidNotificationCompletesOrder(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)

	ack, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "PAID", "proc-1"))
	require.NoError(t, err)
	assert.Equal(t, &NotificationAck{
		Message:           AckUpdated,
		MerchantReference: ref,
		PaymentStatus:     models.PaymentStatusCompleted,
		UUID:              "proc-1",
	}, ack)

	order, err := f.ledger.GetOrderByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, order.Paid)
	assert.Equal(t, models.PaymentStatusCompleted, order.PaymentStatus)
	assert.Equal(t, models.OrderStatusCompleted, order.OrderStatus)

	require.Equal(t, 1, f.notifier.count())
	summary := f.notifier.summaries[0]
	assert.Equal(t, "Maria", summary.Customer.Name, "notifications carry decrypted data")
	assert.Equal(t, "maria@example.com", summary.Customer.Email)
	assert.Equal(t, "30.00 EUR", summary.TotalAmount)
}

func TestPaidNotificationTwiceNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)
	token := notificationToken(t, ref, "PAID", "proc-1")

	_, err := f.settlement.HandleNotification(context.Background(), token)
	require.NoError(t, err)

	ack, err := f.settlement.HandleNotification(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, AckAlreadyProcessed, ack.Message)
	assert.Equal(t, models.PaymentStatusCompleted, ack.PaymentStatus)

	assert.Equal(t, 1, f.notifier.count())
}

func TestConcurrentPaidNotificationsNotifyOnce(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)
	token := notificationToken(t, ref, "PAID", "proc-1")

	var wg sync.WaitGroup
	acks := make([]*NotificationAck, 8)
	errs := make([]error, 8)
	for i := range acks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acks[i], errs[i] = f.settlement.HandleNotification(context.Background(), token)
		}(i)
	}
	wg.Wait()

	updated := 0
	for i := range acks {
		require.NoError(t, errs[i])
		assert.Equal(t, models.PaymentStatusCompleted, acks[i].PaymentStatus)
		if acks[i].Message == AckUpdated {
			updated++
		}
	}
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, f.notifier.count())
}

func TestVoidedAfterPaidSendsNoEmail(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)

	_, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "PAID", "proc-1"))
	require.NoError(t, err)

	ack, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "VOIDED", "proc-1"))
	require.NoError(t, err)
	assert.Equal(t, AckUpdated, ack.Message)
	assert.Equal(t, models.PaymentStatusVoided, ack.PaymentStatus)

	order, err := f.ledger.GetOrderByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusVoided, order.PaymentStatus)

	assert.Equal(t, 1, f.notifier.count(), "only PAID notifies")
}

func TestNonPaidStatusesSendNothing(t *testing.T) {
	for _, code := range []string{"AUTHORIZED", "VOIDED", "PARTIALLY_REFUNDED", "REFUNDED"} {
		t.Run(code, func(t *testing.T) {
			f := newFixture(t)
			ref := pendingOrder(t, f)

			ack, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, code, "proc-2"))
			require.NoError(t, err)

			want, err := models.FromProcessorCode(code)
			require.NoError(t, err)
			assert.Equal(t, want, ack.PaymentStatus)
			assert.Equal(t, 0, f.notifier.count())
		})
	}
}

func TestStaleNotificationIsIgnored(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)

	_, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "REFUNDED", ""))
	require.NoError(t, err)

	for _, code := range []string{"AUTHORIZED", "PAID", "VOIDED", "PARTIALLY_REFUNDED"} {
		ack, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, code, ""))
		require.NoError(t, err, code)
		assert.Equal(t, AckIgnored, ack.Message, code)
		assert.Equal(t, models.PaymentStatusRefunded, ack.PaymentStatus, code)
	}

	assert.Equal(t, 0, f.notifier.count())
}

func TestAuthorizedThenPaid(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)

	_, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "AUTHORIZED", "proc-3"))
	require.NoError(t, err)

	ack, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "PAID", ""))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, ack.PaymentStatus)
	assert.Equal(t, "proc-3", ack.UUID, "uuid is kept when the notification omits it")
	assert.Equal(t, 1, f.notifier.count())

	ack, err = f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "AUTHORIZED", "proc-3"))
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, ack.Message)
}

func TestAbandonedMovesOrderOnce(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)
	token := notificationToken(t, ref, "ABANDONED", "proc-4")

	ack, err := f.settlement.HandleNotification(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, AckAbandoned, ack.Message)
	assert.Equal(t, models.PaymentStatusAbandoned, ack.PaymentStatus)
	assert.Equal(t, "proc-4", ack.UUID)

	assert.Equal(t, 0, f.ledger.count())
	archived := f.ledger.archived()
	require.Len(t, archived, 1)
	assert.Equal(t, ref, archived[0].MerchantReference)
	assert.Equal(t, models.PaymentStatusAbandoned, archived[0].PaymentStatus)

	_, err = f.settlement.HandleNotification(context.Background(), token)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
	assert.Len(t, f.ledger.archived(), 1)

	assert.Contains(t, f.events.types(), models.EventTypeOrderAbandoned)
}

func TestPaidWinsOverLateAbandon(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)

	_, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "PAID", "proc-5"))
	require.NoError(t, err)

	_, err = f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "ABANDONED", "proc-5"))
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	order, err := f.ledger.GetOrderByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, order.PaymentStatus)
	assert.Empty(t, f.ledger.archived())
}

func TestNotificationRejections(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"merchantReference": ref,
		"paymentStatus":     "PAID",
	}).SignedString([]byte("not-the-shared-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		kind  apperror.Kind
	}{
		{name: "forged signature", token: forged, kind: apperror.KindUnauthorized},
		{name: "garbage", token: "not-a-token", kind: apperror.KindUnauthorized},
		{name: "empty", token: "", kind: apperror.KindUnauthorized},
		{name: "unknown status", token: notificationToken(t, ref, "CHARGEBACK", ""), kind: apperror.KindBadRequest},
		{name: "stored but not processor code", token: notificationToken(t, ref, "RETURNED", ""), kind: apperror.KindBadRequest},
		{name: "missing reference", token: notificationToken(t, "", "PAID", ""), kind: apperror.KindBadRequest},
		{name: "unknown order", token: notificationToken(t, "CAT-999999", "PAID", ""), kind: apperror.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.settlement.HandleNotification(context.Background(), tt.token)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperror.As(err).Kind, err.Error())
		})
	}

	order, err := f.ledger.GetOrderByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus, "rejected notifications change nothing")
	assert.Equal(t, 0, f.notifier.count())
}

func TestSideEffectFailureKeepsPayment(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("customer_email: relay down")
	ref := pendingOrder(t, f)

	ack, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "PAID", "proc-6"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, ack.PaymentStatus)

	order, err := f.ledger.GetOrderByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, order.Paid)
}

func TestCorruptCiphertextStillNotifies(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)

	f.ledger.mu.Lock()
	f.ledger.orders[ref].Phone = "corrupted"
	f.ledger.mu.Unlock()

	_, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "PAID", ""))
	require.NoError(t, err)

	require.Equal(t, 1, f.notifier.count())
	assert.Empty(t, f.notifier.summaries[0].Customer.Phone)
	assert.Equal(t, "Maria", f.notifier.summaries[0].Customer.Name)
}

func TestStatusChangeEvents(t *testing.T) {
	f := newFixture(t)
	ref := pendingOrder(t, f)

	_, err := f.settlement.HandleNotification(context.Background(), notificationToken(t, ref, "PAID", "proc-7"))
	require.NoError(t, err)

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1]
	f.events.mu.Unlock()

	assert.Equal(t, models.EventTypePaymentStatusChanged, last.EventType)
	assert.Equal(t, models.PaymentStatusCompleted, last.PaymentStatus)
	assert.Equal(t, models.PaymentStatusPending, last.PreviousStatus)
	assert.Equal(t, "30.00", last.TotalAmount)
	assert.NotEmpty(t, last.EventID)
}

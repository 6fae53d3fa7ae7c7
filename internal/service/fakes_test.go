package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"catering-service/internal/catalog"
	"catering-service/internal/models"
	"catering-service/internal/notify"
	"catering-service/internal/payment"
	"catering-service/internal/security"
	"catering-service/internal/store"

	"github.com/golang-jwt/jwt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"
)

const (
	testPIISecret          = "pii-secret"
	testCSRFSecret         = "csrf-secret"
	testSigningSecret      = "signing-secret"
	testNotificationSecret = "notification-secret"
)

// memoryLedger mirrors the conditional semantics of store.Store
type memoryLedger struct {
	mu     sync.Mutex
	seq    int
	orders map[string]*models.Order
	unpaid []models.UnpaidOrder

	upsertErr error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{orders: map[string]*models.Order{}}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.LineItems = append(models.LineItems(nil), o.LineItems...)
	return &c
}

func (l *memoryLedger) UpsertPendingOrder(_ context.Context, order *models.Order) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.upsertErr != nil {
		return false, l.upsertErr
	}

	for _, existing := range l.orders {
		if existing.ClientHash == order.ClientHash && existing.PaymentStatus == models.PaymentStatusPending {
			order.ID = existing.ID
			order.MerchantReference = existing.MerchantReference
			order.PaymentStatus = existing.PaymentStatus
			order.OrderStatus = existing.OrderStatus
			order.CreatedAt = existing.CreatedAt
			order.UpdatedAt = time.Now()
			order.PaymentURL = ""
			order.CheckoutVersion = existing.CheckoutVersion + 1
			l.orders[order.MerchantReference] = cloneOrder(order)
			return false, nil
		}
	}

	l.seq++
	order.ID = int64(l.seq)
	order.MerchantReference = fmt.Sprintf("CAT-%06d", l.seq)
	order.PaymentStatus = models.PaymentStatusPending
	order.OrderStatus = models.OrderStatusNonCompleted
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	order.CheckoutVersion = 1
	l.orders[order.MerchantReference] = cloneOrder(order)
	return true, nil
}

func (l *memoryLedger) SetPaymentURL(_ context.Context, ref string, version int64, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[ref]
	if !ok || o.PaymentStatus != models.PaymentStatusPending {
		return fmt.Errorf("%w: %s", store.ErrNotFound, ref)
	}
	if o.CheckoutVersion != version {
		return fmt.Errorf("%w: %s", store.ErrStaleCheckout, ref)
	}
	o.PaymentURL = url
	return nil
}

func (l *memoryLedger) GetOrderByReference(_ context.Context, ref string) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, ref)
	}
	return cloneOrder(o), nil
}

func (l *memoryLedger) TransitionPaymentStatus(_ context.Context, ref string, status models.PaymentStatus, processorUUID string) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[ref]
	if !ok || !models.CanTransition(o.PaymentStatus, status) {
		return nil, nil
	}
	o.PaymentStatus = status
	if status == models.PaymentStatusCompleted {
		o.Paid = true
		o.OrderStatus = models.OrderStatusCompleted
	}
	if processorUUID != "" {
		o.UUID = processorUUID
	}
	return cloneOrder(o), nil
}

func (l *memoryLedger) AbandonOrder(_ context.Context, ref, processorUUID string) (*models.UnpaidOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[ref]
	if !ok || !models.CanTransition(o.PaymentStatus, models.PaymentStatusAbandoned) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, ref)
	}
	delete(l.orders, ref)

	unpaid := models.UnpaidOrder{Order: *cloneOrder(o), ArchivedAt: time.Now()}
	unpaid.PaymentStatus = models.PaymentStatusAbandoned
	if processorUUID != "" {
		unpaid.UUID = processorUUID
	}
	l.unpaid = append(l.unpaid, unpaid)
	return &unpaid, nil
}

func (l *memoryLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

func (l *memoryLedger) archived() []models.UnpaidOrder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.UnpaidOrder(nil), l.unpaid...)
}

// fakeProcessor wraps the real request builder and records what was sent
type fakeProcessor struct {
	*payment.Client

	mu       sync.Mutex
	requests []payment.OrderRequest
	err      error

	// gate, when set, runs before the link is returned
	gate func(req payment.OrderRequest)
}

func newFakeProcessor() *fakeProcessor {
	client := payment.NewClient(payment.Config{
		MerchantID: "merchant-1",
		Currency:   "EUR",
		Timeout:    time.Second,
	}, security.NewSigner(testSigningSecret, testNotificationSecret))
	return &fakeProcessor{Client: client}
}

func (p *fakeProcessor) CreatePaymentLink(_ context.Context, req payment.OrderRequest) (string, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	err, gate := p.err, p.gate
	p.mu.Unlock()

	if gate != nil {
		gate(req)
	}
	if err != nil {
		return "", err
	}
	return "https://pay.example/checkout/" + req.MerchantReference + "?amount=" + req.Amount, nil
}

func (p *fakeProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]string
	seq  int
	err  error
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: map[string]string{}}
}

func (m *memoryLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return "", m.err
	}
	if _, ok := m.held[key]; ok {
		return "", nil
	}
	m.seq++
	token := fmt.Sprintf("token-%d", m.seq)
	m.held[key] = token
	return token, nil
}

func (m *memoryLocker) ReleaseLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

// countingNotifier counts paid notifications per merchant reference
type countingNotifier struct {
	mu        sync.Mutex
	summaries []notify.OrderSummary
	err       error
}

func (n *countingNotifier) NotifyPaid(_ context.Context, summary notify.OrderSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, summary)
	return n.err
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.summaries)
}

type mapCatalog map[string]catalog.Product

func (m mapCatalog) FindByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return &p, nil
}

type fixture struct {
	ledger    *memoryLedger
	processor *fakeProcessor
	locker    *memoryLocker
	events    *recordingPublisher
	notifier  *countingNotifier
	csrf      *security.CSRFGuard
	pii       *security.PIICodec

	checkout   *CheckoutService
	settlement *SettlementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	pii, err := security.NewPIICodec(testPIISecret)
	require.NoError(t, err)

	menu := mapCatalog{
		"gyros":    {ID: "gyros", Title: "Gyros plate", Price: decimal.RequireFromString("10.00"), Kind: catalog.KindMenu},
		"tzatziki": {ID: "tzatziki", Title: "Tzatziki", Price: decimal.RequireFromString("5.00"), Kind: catalog.KindMenu},
	}
	alcohol := mapCatalog{
		"retsina": {ID: "retsina", Title: "Retsina", Price: decimal.RequireFromString("12.50"), DiscountPercent: decimal.NewFromInt(20), Kind: catalog.KindAlcohol},
	}

	f := &fixture{
		ledger:    newMemoryLedger(),
		processor: newFakeProcessor(),
		locker:    newMemoryLocker(),
		events:    &recordingPublisher{},
		notifier:  &countingNotifier{},
		csrf:      security.NewCSRFGuard(testCSRFSecret),
		pii:       pii,
	}

	f.checkout = NewCheckoutService(
		f.ledger,
		NewPriceAuthority(catalog.Chain{menu, alcohol}),
		f.processor,
		f.locker,
		f.events,
		f.csrf,
		f.pii,
		CheckoutConfig{DeliveryFee: decimal.RequireFromString("5.00"), LockTTL: time.Minute},
	)
	f.settlement = NewSettlementService(
		f.ledger,
		security.NewSigner(testSigningSecret, testNotificationSecret),
		f.pii,
		f.notifier,
		f.events,
		currency.EUR,
	)
	return f
}

// cart returns the €10 x 2 + €5 x 1 delivery cart and its csrf cookie
func (f *fixture) cart() (*CheckoutRequest, string) {
	token, cookie := f.csrf.Issue()
	return &CheckoutRequest{
		CSRFToken:    token,
		Name:         "Maria",
		Surname:      "Papadopoulou",
		Phone:        "+30 210 1234567",
		Email:        "maria@example.com",
		Address:      "Ermou 10, Athens",
		Notes:        "Ring the bell",
		DeliveryType: "delivery",
		Locale:       "en",
		LineItems: []CheckoutLineItem{
			{ProductID: "gyros", Title: "Gyros plate", Price: decimal.RequireFromString("10"), Quantity: 2},
			{ProductID: "tzatziki", Title: "Tzatziki", Price: decimal.RequireFromString("5"), Quantity: 1},
		},
		DeliveryFee: decimal.RequireFromString("5"),
		TotalAmount: decimal.RequireFromString("30"),
	}, cookie
}

func notificationToken(t *testing.T, ref, status, uuid string) string {
	t.Helper()
	claims := security.NotificationClaims{
		MerchantReference: ref,
		PaymentStatus:     status,
		UUID:              uuid,
		StandardClaims:    jwt.StandardClaims{IssuedAt: time.Now().Unix()},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testNotificationSecret))
	require.NoError(t, err)
	return token
}

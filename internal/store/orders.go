package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"catering-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, merchant_reference, uuid, name, surname, phone, email, address, notes,
	promo_code, delivery_type, delivery_time_option, delivery_date, delivery_time, locale,
	line_items, product_total, delivery_fee, total_amount, paid, payment_status, order_status,
	payment_url, client_hash, checkout_version, created_at, updated_at`

const insertOrderQuery = `
	INSERT INTO orders (merchant_reference, name, surname, phone, email, address, notes,
		promo_code, delivery_type, delivery_time_option, delivery_date, delivery_time, locale,
		line_items, product_total, delivery_fee, total_amount, payment_status, order_status,
		client_hash)
	VALUES (:merchant_reference, :name, :surname, :phone, :email, :address, :notes,
		:promo_code, :delivery_type, :delivery_time_option, :delivery_date, :delivery_time, :locale,
		:line_items, :product_total, :delivery_fee, :total_amount, :payment_status, :order_status,
		:client_hash)
	RETURNING ` + orderColumns

const updatePendingOrderQuery = `
	UPDATE orders SET
		address = :address, notes = :notes, promo_code = :promo_code,
		delivery_time_option = :delivery_time_option, delivery_date = :delivery_date,
		delivery_time = :delivery_time, locale = :locale,
		line_items = :line_items, product_total = :product_total,
		delivery_fee = :delivery_fee, total_amount = :total_amount,
		payment_url = '', checkout_version = checkout_version + 1, updated_at = NOW()
	WHERE id = :id AND payment_status = 'pending'
	RETURNING ` + orderColumns

const archiveOrderQuery = `
	INSERT INTO unpaid_orders (merchant_reference, uuid, name, surname, phone, email, address,
		notes, promo_code, delivery_type, delivery_time_option, delivery_date, delivery_time,
		locale, line_items, product_total, delivery_fee, total_amount, paid, payment_status,
		order_status, payment_url, client_hash, checkout_version, created_at, updated_at)
	VALUES (:merchant_reference, :uuid, :name, :surname, :phone, :email, :address,
		:notes, :promo_code, :delivery_type, :delivery_time_option, :delivery_date, :delivery_time,
		:locale, :line_items, :product_total, :delivery_fee, :total_amount, :paid, :payment_status,
		:order_status, :payment_url, :client_hash, :checkout_version, :created_at, :updated_at)
	RETURNING archived_at`

const pendingHashIndex = "orders_pending_client_hash_idx"

// UpsertPendingOrder stores a checkout. When a pending order with the same
// client hash exists it is updated in place and keeps its merchant reference;
// otherwise a new order is inserted under a freshly allocated reference.
// order is overwritten with the persisted row.
func (s *Store) UpsertPendingOrder(ctx context.Context, order *models.Order) (created bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		created, err = s.upsertPendingOrderTx(ctx, order)
		if err == nil {
			return created, nil
		}
		if !isUniqueViolation(err, pendingHashIndex) {
			return false, err
		}
		// a concurrent checkout inserted the same hash first; retry as update
	}
	return false, err
}

func (s *Store) upsertPendingOrderTx(ctx context.Context, order *models.Order) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var existing models.Order
	err = tx.GetContext(ctx, &existing,
		"SELECT "+orderColumns+" FROM orders WHERE client_hash = $1 AND payment_status = 'pending' FOR UPDATE",
		order.ClientHash)

	var created bool
	switch {
	case err == nil:
		order.ID = existing.ID
		if err := namedGet(ctx, tx, order, updatePendingOrderQuery, order); err != nil {
			return false, fmt.Errorf("failed to update pending order: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		var seq int64
		if err := tx.GetContext(ctx, &seq, "SELECT nextval('order_reference_seq')"); err != nil {
			return false, fmt.Errorf("failed to allocate merchant reference: %w", err)
		}
		order.MerchantReference = s.formatReference(seq)
		order.PaymentStatus = models.PaymentStatusPending
		order.OrderStatus = models.OrderStatusNonCompleted
		if err := namedGet(ctx, tx, order, insertOrderQuery, order); err != nil {
			return false, fmt.Errorf("failed to insert order: %w", err)
		}
		created = true
	default:
		return false, fmt.Errorf("failed to look up pending order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return created, nil
}

// SetPaymentURL stores the processor checkout link on a still pending order.
// The link is only saved while the order is at checkoutVersion; a newer
// resubmission yields ErrStaleCheckout so a link for an old cart is never kept.
func (s *Store) SetPaymentURL(ctx context.Context, merchantReference string, checkoutVersion int64, paymentURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET payment_url = $1, updated_at = NOW()
		WHERE merchant_reference = $2 AND checkout_version = $3 AND payment_status = 'pending'`,
		paymentURL, merchantReference, checkoutVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current struct {
		PaymentStatus   models.PaymentStatus `db:"payment_status"`
		CheckoutVersion int64                `db:"checkout_version"`
	}
	err = s.db.GetContext(ctx, &current,
		"SELECT payment_status, checkout_version FROM orders WHERE merchant_reference = $1", merchantReference)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, merchantReference)
	}
	if err != nil {
		return fmt.Errorf("failed to look up order: %w", err)
	}
	if current.PaymentStatus == models.PaymentStatusPending && current.CheckoutVersion != checkoutVersion {
		return fmt.Errorf("%w: %s at version %d, link for %d", ErrStaleCheckout, merchantReference, current.CheckoutVersion, checkoutVersion)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, merchantReference)
}

// GetOrderByReference retrieves an order by merchant reference
func (s *Store) GetOrderByReference(ctx context.Context, merchantReference string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE merchant_reference = $1", merchantReference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, merchantReference)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// TransitionPaymentStatus moves an order to status in a single conditional
// update. It returns (nil, nil) when the order exists in none of the states
// status may be entered from, so concurrent deliveries apply at most once.
func (s *Store) TransitionPaymentStatus(ctx context.Context, merchantReference string, status models.PaymentStatus, processorUUID string) (*models.Order, error) {
	from := models.AllowedFrom(status)
	allowed := make(pq.StringArray, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	completed := status == models.PaymentStatusCompleted

	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders SET
			payment_status = $2,
			paid = paid OR $3,
			order_status = CASE WHEN $3 THEN 'completed' ELSE order_status END,
			uuid = COALESCE(NULLIF($4, ''), uuid),
			updated_at = NOW()
		WHERE merchant_reference = $1 AND payment_status = ANY($5)
		RETURNING `+orderColumns,
		merchantReference, string(status), completed, processorUUID, allowed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition payment status: %w", err)
	}
	return &order, nil
}

// AbandonOrder moves an abandonable order into unpaid_orders in one transaction
func (s *Store) AbandonOrder(ctx context.Context, merchantReference, processorUUID string) (*models.UnpaidOrder, error) {
	from := models.AllowedFrom(models.PaymentStatusAbandoned)
	allowed := make(pq.StringArray, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"DELETE FROM orders WHERE merchant_reference = $1 AND payment_status = ANY($2) RETURNING "+orderColumns,
		merchantReference, allowed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, merchantReference)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove order: %w", err)
	}

	unpaid := &models.UnpaidOrder{Order: order}
	unpaid.PaymentStatus = models.PaymentStatusAbandoned
	if processorUUID != "" {
		unpaid.UUID = processorUUID
	}

	if err := namedGet(ctx, tx, &unpaid.ArchivedAt, archiveOrderQuery, unpaid.Order); err != nil {
		return nil, fmt.Errorf("failed to archive order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return unpaid, nil
}

// RecordOrderEvent stores an event once; it reports whether the row is new
func (s *Store) RecordOrderEvent(ctx context.Context, event *models.ProcessedEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_events (event_id, event_type, merchant_reference, payment_status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.EventType, event.MerchantReference, event.PaymentStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func namedGet(ctx context.Context, tx *sqlx.Tx, dest interface{}, query string, arg interface{}) error {
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	return stmt.GetContext(ctx, dest, arg)
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}

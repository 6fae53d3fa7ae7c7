// Package payment talks to the external payment processor.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"catering-service/internal/models"
	"catering-service/internal/util"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var ErrProcessorUnavailable = errors.New("payment processor unavailable")

// Signer signs outbound payloads
type Signer interface {
	Sign(payload interface{}) (string, error)
}

// BillingAddress is the decrypted billing contact sent to the processor
type BillingAddress struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address,omitempty"`
}

// LineItem is the processor's line representation. Amounts are
// fixed two decimal strings so the signed form is stable.
type LineItem struct {
	ProductID string `json:"productId"`
	Title     string `json:"title"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Total     string `json:"total"`
	Delivery  bool   `json:"delivery"`
}

// OrderRequest is the signed body of the order-creation call
type OrderRequest struct {
	MerchantID        string         `json:"merchantId"`
	MerchantReference string         `json:"merchantReference"`
	Amount            string         `json:"amount"`
	Currency          string         `json:"currency"`
	Locale            string         `json:"locale"`
	BillingAddress    BillingAddress `json:"billingAddress"`
	LineItems         []LineItem     `json:"lineItems"`
	ReturnURL         string         `json:"returnUrl"`
	NotificationURL   string         `json:"notificationUrl"`
}

type signedOrderRequest struct {
	OrderRequest
	Signature string `json:"signature"`
}

type orderResponse struct {
	PaymentURL string `json:"paymentUrl"`
}

// Config holds the processor endpoint and merchant settings
type Config struct {
	Endpoint        string
	MerchantID      string
	Currency        string
	ReturnURL       string
	NotificationURL string
	Timeout         time.Duration
}

// Client requests payment links
type Client struct {
	cfg        Config
	signer     Signer
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, signer Signer) *Client {
	return &Client{
		cfg:        cfg,
		signer:     signer,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     util.Logger("payment"),
	}
}

// BuildRequest assembles the processor payload for an order
func (c *Client) BuildRequest(order *models.Order, billing BillingAddress) OrderRequest {
	return OrderRequest{
		MerchantID:        c.cfg.MerchantID,
		MerchantReference: order.MerchantReference,
		Amount:            order.TotalAmount.StringFixed(2),
		Currency:          c.cfg.Currency,
		Locale:            order.Locale,
		BillingAddress:    billing,
		LineItems: lo.Map(order.LineItems, func(li models.LineItem, _ int) LineItem {
			return LineItem{
				ProductID: li.ProductID,
				Title:     li.Title,
				UnitPrice: li.UnitPrice.StringFixed(2),
				Quantity:  li.Quantity,
				Total:     li.Subtotal().StringFixed(2),
				Delivery:  li.IsDeliveryLine,
			}
		}),
		ReturnURL:       c.cfg.ReturnURL,
		NotificationURL: c.cfg.NotificationURL,
	}
}

// CreatePaymentLink signs req, posts it, and returns the checkout URL.
// Transport failures, timeouts and 5xx answers wrap ErrProcessorUnavailable.
func (c *Client) CreatePaymentLink(ctx context.Context, req OrderRequest) (string, error) {
	signature, err := c.signer.Sign(req)
	if err != nil {
		return "", fmt.Errorf("failed to sign order request: %w", err)
	}

	body, err := json.Marshal(signedOrderRequest{OrderRequest: req, Signature: signature})
	if err != nil {
		return "", fmt.Errorf("failed to marshal order request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Signature", signature)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrProcessorUnavailable, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: status %d", ErrProcessorUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		c.logger.Error("Payment processor rejected order",
			zap.String("merchant_reference", req.MerchantReference),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return "", fmt.Errorf("payment processor rejected order: status %d", resp.StatusCode)
	}

	var out orderResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to decode processor response: %w", err)
	}
	if out.PaymentURL == "" {
		return "", errors.New("payment processor returned no payment url")
	}

	return out.PaymentURL, nil
}

// Package notify composes and delivers the paid-order notifications.
package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"catering-service/internal/models"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

//go:embed templates
var templateFS embed.FS

var supportedLocales = []language.Tag{language.English, language.German}

var localeMatcher = language.NewMatcher(supportedLocales)

var customerSubjects = map[string]string{
	"en": "Your order %s is confirmed",
	"de": "Ihre Bestellung %s ist bestätigt",
}

// SummaryLine is a formatted product line
type SummaryLine struct {
	Title     string
	Quantity  int
	UnitPrice string
	Subtotal  string
}

// OrderSummary is the template data for a paid order. Customer holds
// plaintext values and must never be logged.
type OrderSummary struct {
	MerchantReference  string
	Customer           models.Customer
	DeliveryType       models.DeliveryType
	DeliveryTimeOption models.DeliveryTimeOption
	DeliveryDate       string
	DeliveryTime       string
	Locale             string
	Lines              []SummaryLine
	ProductTotal       string
	DeliveryFee        string
	TotalAmount        string
}

func (s OrderSummary) IsDelivery() bool {
	return s.DeliveryType == models.DeliveryTypeDelivery
}

func (s OrderSummary) Scheduled() bool {
	return s.DeliveryTimeOption == models.DeliveryTimeScheduled
}

// NewOrderSummary formats order for display using the decrypted customer
func NewOrderSummary(order *models.Order, customer models.Customer, unit currency.Unit) OrderSummary {
	money := func(d decimal.Decimal) string {
		return fmt.Sprintf("%s %s", d.StringFixed(2), unit)
	}

	return OrderSummary{
		MerchantReference:  order.MerchantReference,
		Customer:           customer,
		DeliveryType:       order.DeliveryType,
		DeliveryTimeOption: order.DeliveryTimeOption,
		DeliveryDate:       order.DeliveryDate,
		DeliveryTime:       order.DeliveryTime,
		Locale:             order.Locale,
		Lines: lo.Map(order.ProductLines(), func(li models.LineItem, _ int) SummaryLine {
			return SummaryLine{
				Title:     li.Title,
				Quantity:  li.Quantity,
				UnitPrice: money(li.UnitPrice),
				Subtotal:  money(li.Subtotal()),
			}
		}),
		ProductTotal: money(order.ProductTotal),
		DeliveryFee:  money(order.DeliveryFee),
		TotalAmount:  money(order.TotalAmount),
	}
}

// Message is a rendered email
type Message struct {
	Subject string
	Body    string
}

// Renderer turns summaries into email and chat bodies
type Renderer struct {
	html *htmltemplate.Template
	chat *texttemplate.Template
}

func NewRenderer() (*Renderer, error) {
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	chat, err := texttemplate.ParseFS(templateFS, "templates/chat.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse chat template: %w", err)
	}

	return &Renderer{html: html, chat: chat}, nil
}

// CustomerEmail renders the confirmation in the order's language,
// falling back to English
func (r *Renderer) CustomerEmail(s OrderSummary) (Message, error) {
	lang := matchLocale(s.Locale)

	body, err := r.executeHTML("customer_"+lang+".html", s)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: fmt.Sprintf(customerSubjects[lang], s.MerchantReference), Body: body}, nil
}

// OperatorEmail renders the kitchen copy
func (r *Renderer) OperatorEmail(s OrderSummary) (Message, error) {
	body, err := r.executeHTML("operator.html", s)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: fmt.Sprintf("New order %s (%s)", s.MerchantReference, s.TotalAmount), Body: body}, nil
}

// ChatMessage renders the plain text operator alert
func (r *Renderer) ChatMessage(s OrderSummary) (string, error) {
	var buf bytes.Buffer
	if err := r.chat.ExecuteTemplate(&buf, "chat.txt", s); err != nil {
		return "", fmt.Errorf("failed to render chat message: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) executeHTML(name string, s OrderSummary) (string, error) {
	var buf bytes.Buffer
	if err := r.html.ExecuteTemplate(&buf, name, s); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// matchLocale returns "en" or "de"
func matchLocale(locale string) string {
	tag, _, _ := localeMatcher.Match(language.Make(locale))
	base, _ := tag.Base()
	if _, ok := customerSubjects[base.String()]; ok {
		return base.String()
	}
	return "en"
}

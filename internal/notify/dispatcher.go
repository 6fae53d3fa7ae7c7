package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catering-service/internal/util"

	"go.uber.org/zap"
)

// Channel names used in logs and metrics
const (
	ChannelCustomerEmail = "customer_email"
	ChannelOperatorEmail = "operator_email"
	ChannelChat          = "chat"
)

var errNoRecipient = errors.New("no recipient address")

// EmailSender sends one HTML email
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// ChatSender sends one plain text message to the operator channel
type ChatSender interface {
	SendMessage(ctx context.Context, text string) error
}

// Dispatcher fans a paid order out to every configured channel
type Dispatcher struct {
	renderer      *Renderer
	email         EmailSender
	chat          ChatSender
	operatorEmail string
	timeout       time.Duration
	logger        *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil email or chat sender disables
// that channel.
func NewDispatcher(renderer *Renderer, email EmailSender, chat ChatSender, operatorEmail string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		renderer:      renderer,
		email:         email,
		chat:          chat,
		operatorEmail: operatorEmail,
		timeout:       timeout,
		logger:        util.Logger("notify"),
	}
}

type channel struct {
	name string
	send func(ctx context.Context) error
}

// NotifyPaid delivers the customer confirmation, the operator email and
// the chat alert. Channels run concurrently, each under its own timeout,
// and one failing channel never stops the others. The returned error
// joins every channel failure.
func (d *Dispatcher) NotifyPaid(ctx context.Context, summary OrderSummary) error {
	// delivery must not depend on the inbound request staying open
	ctx = context.WithoutCancel(ctx)

	channels := d.channels(summary)
	errs := make([]error, len(channels))

	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.deliver(ctx, summary.MerchantReference, ch)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (d *Dispatcher) channels(summary OrderSummary) []channel {
	var channels []channel

	if d.email != nil {
		channels = append(channels,
			channel{name: ChannelCustomerEmail, send: func(ctx context.Context) error {
				if summary.Customer.Email == "" {
					return errNoRecipient
				}
				msg, err := d.renderer.CustomerEmail(summary)
				if err != nil {
					return err
				}
				return d.email.SendEmail(ctx, summary.Customer.Email, msg.Subject, msg.Body)
			}},
			channel{name: ChannelOperatorEmail, send: func(ctx context.Context) error {
				if d.operatorEmail == "" {
					return errNoRecipient
				}
				msg, err := d.renderer.OperatorEmail(summary)
				if err != nil {
					return err
				}
				return d.email.SendEmail(ctx, d.operatorEmail, msg.Subject, msg.Body)
			}},
		)
	} else {
		d.logger.Debug("Email sink disabled", zap.String("merchant_reference", summary.MerchantReference))
	}

	if d.chat != nil {
		channels = append(channels, channel{name: ChannelChat, send: func(ctx context.Context) error {
			text, err := d.renderer.ChatMessage(summary)
			if err != nil {
				return err
			}
			return d.chat.SendMessage(ctx, text)
		}})
	} else {
		d.logger.Debug("Chat sink disabled", zap.String("merchant_reference", summary.MerchantReference))
	}

	return channels
}

func (d *Dispatcher) deliver(ctx context.Context, merchantReference string, ch channel) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", ch.name, r)
		}
		if err != nil {
			util.NotificationsSentTotal.WithLabelValues(ch.name, "failed").Inc()
			d.logger.Error("Notification delivery failed",
				zap.String("channel", ch.name),
				zap.String("merchant_reference", merchantReference),
				zap.Error(err))
			return
		}
		util.NotificationsSentTotal.WithLabelValues(ch.name, "sent").Inc()
	}()

	if err := ch.send(ctx); err != nil {
		return fmt.Errorf("%s: %w", ch.name, err)
	}
	return nil
}

package mail

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// ConfirmationDetails describes a successful subscription change for the
// confirmation email.
type ConfirmationDetails struct {
	Plan         string
	BillingCycle string
	Amount       int64 // minor units, 0 when the provider did not report one
	Currency     string
	Gateway      string
}

// CancellationDetails describes a subscription cancellation notice.
type CancellationDetails struct {
	Plan      string
	Immediate bool
}

// Notifier sends billing lifecycle emails. Implementations must be safe to
// call from short-lived goroutines; failures are the caller's to log, never
// to propagate into webhook responses.
type Notifier interface {
	SendSubscriptionConfirmation(recipient string, d ConfirmationDetails) error
	SendSubscriptionCanceled(recipient string, d CancellationDetails) error
}

// SMTPNotifier renders billing emails and delivers them via the SMTP mailer.
type SMTPNotifier struct{}

func NewSMTPNotifier() *SMTPNotifier {
	return &SMTPNotifier{}
}

func (n *SMTPNotifier) SendSubscriptionConfirmation(recipient string, d ConfirmationDetails) error {
	subject := fmt.Sprintf("Your Draftdeck %s subscription is active", d.Plan)
	amountLine := ""
	if d.Amount > 0 {
		amountLine = fmt.Sprintf("<p>Amount: %d.%02d %s</p>", d.Amount/100, d.Amount%100, d.Currency)
	}
	body := fmt.Sprintf(
		"<h2>Subscription confirmed</h2>"+
			"<p>Plan: %s (%s)</p>"+
			"%s"+
			"<p>Payment method: %s</p>"+
			"<p>Thanks for using Draftdeck!</p>",
		d.Plan, d.BillingCycle, amountLine, d.Gateway,
	)
	return SendMail(recipient, subject, body)
}

func (n *SMTPNotifier) SendSubscriptionCanceled(recipient string, d CancellationDetails) error {
	subject := "Your Draftdeck subscription was canceled"
	when := "at the end of the current billing period"
	if d.Immediate {
		when = "immediately"
	}
	body := fmt.Sprintf(
		"<h2>Subscription canceled</h2>"+
			"<p>Your %s subscription ends %s.</p>"+
			"<p>Your documents stay available on the free plan.</p>",
		d.Plan, when,
	)
	return SendMail(recipient, subject, body)
}

// DispatchAsync runs a notification send on its own goroutine. Errors and
// panics end at the log sink; webhook processing never waits on the mailer.
func DispatchAsync(name string, send func() error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("notification %s panicked: %v", name, r)
			}
		}()
		if err := send(); err != nil {
			log.Errorf("notification %s failed: %v", name, err)
		}
	}()
}

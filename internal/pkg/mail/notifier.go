package mail

import (
	"context"
	"fmt"
	"html"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QRFox/app/models"
)

// AccountLookup loads the account a record belongs to.
type AccountLookup interface {
	GetByID(ctx context.Context, id uint) (*models.Account, error)
}

// SubscriptionNotifier mails the account owner when the provider ends a subscription.
type SubscriptionNotifier struct {
	accounts AccountLookup
	send     SendFunc
}

func NewSubscriptionNotifier(accounts AccountLookup, send SendFunc) *SubscriptionNotifier {
	return &SubscriptionNotifier{accounts: accounts, send: send}
}

// SubscriptionEnded is best effort: failures are logged and never reach the webhook.
func (n *SubscriptionNotifier) SubscriptionEnded(ctx context.Context, rec models.SubscriptionRecord) {
	account, err := n.accounts.GetByID(ctx, rec.AccountID)
	if err != nil {
		log.Warnf("[Billing] no mail for ended subscription %s: account %d: %v", rec.SubscriptionID(), rec.AccountID, err)
		return
	}
	if account.Email == "" {
		return
	}
	subject, body := subscriptionEndedMessage(account, rec)
	if err := n.send(account.Email, subject, body); err != nil {
		log.Warnf("[Billing] mail for ended subscription %s failed: %v", rec.SubscriptionID(), err)
	}
}

func subscriptionEndedMessage(account *models.Account, rec models.SubscriptionRecord) (string, string) {
	name := account.Name
	if name == "" {
		name = account.Email
	}
	subject := "Your QRFox subscription has ended"
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>your %s subscription has ended. Dynamic QR codes stop redirecting once your remaining access expires.</p>"+
			"<p>You can subscribe again at any time from your billing page.</p>",
		html.EscapeString(name), html.EscapeString(rec.PlanID))
	return subject, body
}

package billing

import (
	"strconv"
	"time"

	"github.com/ManuelReschke/QRFox/internal/pkg/env"
)

// Config carries the environment-specific billing settings.
type Config struct {
	StripeSecretKey       string
	WebhookSecret         string
	ProviderTimeout       time.Duration
	SuccessURL            string
	CancelURL             string
	DeadLetterMaxAttempts int
}

func ConfigFromEnv() Config {
	timeout, err := time.ParseDuration(env.GetEnv("STRIPE_TIMEOUT", "15s"))
	if err != nil || timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	attempts, err := strconv.Atoi(env.GetEnv("WEBHOOK_DEADLETTER_MAX_ATTEMPTS", "5"))
	if err != nil || attempts <= 0 {
		attempts = DefaultDeadLetterMaxAttempts
	}
	return Config{
		StripeSecretKey:       env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret:         env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		ProviderTimeout:       timeout,
		SuccessURL:            env.GetEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/billing/success"),
		CancelURL:             env.GetEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/billing/cancel"),
		DeadLetterMaxAttempts: attempts,
	}
}

package constants

// Static route constants
const (
	APIRoute     = "/api"
	APIV1Route   = "/api/v1"
	MetricsRoute = "/metrics"
	DocsRoute    = "/docs/api/"
	// Relative to APIV1Route
	BillingRoute = "/billing"
	AccountRoute = "/account"
	// Provider callbacks; never rate limited or API-key protected
	BillingWebhookRoute = APIV1Route + BillingRoute + "/webhook"
)

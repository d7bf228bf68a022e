package billing

import "github.com/ManuelReschke/QRFox/internal/pkg/metrics"

func observeProvider(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, result).Inc()
}

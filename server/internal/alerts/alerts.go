package alerts

import (
	"context"
	"log/slog"
	"net/http"
	"net/smtp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pipepulse/pipepulse/pkg/types"
	"github.com/pipepulse/pipepulse/server/internal/config"
)

// logSnippetLen caps how much of the build log is quoted in a Slack message.
const logSnippetLen = 500

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pipepulse_alert_deliveries_total",
	Help: "Alert delivery attempts by target type and outcome",
}, []string{"target", "outcome"})

// ShouldAlert reports whether a persisted build must trigger a failure
// notification. The decision is made exactly once per build, after the store
// has acknowledged the append.
func ShouldAlert(b types.Build) bool {
	return b.Status == types.StatusFailure
}

// sendMailFunc matches smtp.SendMail; injectable for tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier delivers failure notifications to the configured targets.
// Delivery failures are logged, counted, and contained — they never reach
// the ingestion path.
type Notifier struct {
	webhooks []config.WebhookConfig
	email    config.EmailConfig
	client   *http.Client
	sendMail sendMailFunc
}

// NewNotifier creates a Notifier from the server alert configuration.
// A Notifier with no targets is valid — Notify then only reports false.
func NewNotifier(cfg config.AlertsConfig) *Notifier {
	return &Notifier{
		webhooks: cfg.Webhooks,
		email:    cfg.Email,
		client:   &http.Client{Timeout: 10 * time.Second},
		sendMail: smtp.SendMail,
	}
}

// Notify delivers a failure notification for b to every configured target.
// Targets fail independently. Returns true if at least one delivery
// succeeded.
func (n *Notifier) Notify(ctx context.Context, b types.Build) bool {
	delivered := false

	for _, wh := range n.webhooks {
		url := wh.URL()
		if url == "" {
			slog.Debug("alerts: webhook url not set — skipping", "type", wh.Type, "env", wh.URLEnv)
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(ctx, url, b)
		case "http":
			err = n.sendHTTP(ctx, url, b)
		default:
			slog.Warn("alerts: unknown webhook type — skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			deliveriesTotal.WithLabelValues(wh.Type, "error").Inc()
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"pipeline", b.Pipeline,
				"err", err,
			)
		} else {
			deliveriesTotal.WithLabelValues(wh.Type, "ok").Inc()
			slog.Debug("alerts: webhook delivered", "type", wh.Type, "pipeline", b.Pipeline)
			delivered = true
		}
	}

	if n.email.Enabled() {
		if err := n.sendEmail(b); err != nil {
			deliveriesTotal.WithLabelValues("email", "error").Inc()
			slog.Error("alerts: email delivery failed",
				"pipeline", b.Pipeline,
				"host", n.email.Host,
				"err", err,
			)
		} else {
			deliveriesTotal.WithLabelValues("email", "ok").Inc()
			slog.Debug("alerts: email delivered", "pipeline", b.Pipeline, "to", n.email.To)
			delivered = true
		}
	}

	return delivered
}

// truncate shortens s to max runes with an ellipsis marker.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

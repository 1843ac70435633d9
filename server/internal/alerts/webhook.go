package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pipepulse/pipepulse/pkg/types"
)

// sendSlack posts a human-readable failure message to a Slack incoming
// webhook.
func (n *Notifier) sendSlack(ctx context.Context, url string, b types.Build) error {
	text := fmt.Sprintf("*CI Pipeline Failure*\nPipeline: %s\nRepository: %s\nBranch: %s\nBuild URL: %s",
		b.Pipeline, b.Repo, b.Branch, orNA(b.URL))
	if b.Logs != "" {
		text += fmt.Sprintf("\n```%s```", truncate(b.Logs, logSnippetLen))
	}

	body, _ := json.Marshal(map[string]string{"text": text})
	return n.post(ctx, url, body)
}

// sendHTTP posts the build as JSON to a generic webhook target.
func (n *Notifier) sendHTTP(ctx context.Context, url string, b types.Build) error {
	body, _ := json.Marshal(map[string]any{"event": "build_failed", "build": b})
	return n.post(ctx, url, body)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

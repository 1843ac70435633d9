package alerts

import (
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pipepulse/pipepulse/pkg/types"
)

// emailLogLen caps how much of the build log is included in the email body.
const emailLogLen = 2000

// sendEmail delivers a failure notification over SMTP. Authentication is
// used only when credentials are configured; STARTTLS is negotiated by the
// smtp package when the server offers it.
func (n *Notifier) sendEmail(b types.Build) error {
	addr := net.JoinHostPort(n.email.Host, strconv.Itoa(n.email.Port))

	var auth smtp.Auth
	if user := n.email.User(); user != "" {
		auth = smtp.PlainAuth("", user, n.email.Pass(), n.email.Host)
	}

	subject := fmt.Sprintf("CI failure: %s in %s", b.Pipeline, b.Repo)
	msg := buildEmail(n.email.From, n.email.To, subject, emailBody(b))

	if err := n.sendMail(addr, auth, n.email.From, []string{n.email.To}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// buildEmail assembles a minimal RFC 5322 plain-text message.
func buildEmail(from, to, subject, body string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}

func emailBody(b types.Build) string {
	var sb strings.Builder
	sb.WriteString("CI Pipeline Failure Alert\n\n")
	fmt.Fprintf(&sb, "Pipeline:   %s\n", b.Pipeline)
	fmt.Fprintf(&sb, "Repository: %s\n", b.Repo)
	fmt.Fprintf(&sb, "Branch:     %s\n", b.Branch)
	fmt.Fprintf(&sb, "Started:    %s\n", b.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Build URL:  %s\n", orNA(b.URL))
	if b.Logs != "" {
		fmt.Fprintf(&sb, "\nBuild logs:\n%s\n%s\n%s\n",
			strings.Repeat("-", 50), truncate(b.Logs, emailLogLen), strings.Repeat("-", 50))
	}
	sb.WriteString("\nThis is an automated alert from pipepulse.\n")
	return sb.String()
}

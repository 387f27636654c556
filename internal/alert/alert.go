// Package alert emails dispatch-pass summaries to the operations
// address when one is configured.
package alert

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"sankalp/internal/dispatch"
)

type Mailer struct {
	Host string
	Port int
	User string
	Pass string
	From string
	To   string
}

// Enabled reports whether alerting is configured at all.
func (m *Mailer) Enabled() bool {
	return m != nil && m.Host != "" && m.To != ""
}

// PassSummary sends a plain-text digest of one dispatch pass. Callers
// treat failures as best-effort; alerting must never affect dispatch.
func (m *Mailer) PassSummary(result *dispatch.RunResult) error {
	if !m.Enabled() {
		return nil
	}

	body := fmt.Sprintf(
		"Dispatch pass finished.\n\nJobs scanned: %d\nJobs executed: %d\nSent: %d\nFailed: %d\nSkipped: %d\n",
		result.ScannedJobs, result.ExecutedJobs, result.Sent, result.Failed, result.Skipped,
	)
	for _, jr := range result.JobResults {
		if jr.Error != "" {
			body += fmt.Sprintf("\njob %s FAILED: %s", jr.JobID, jr.Error)
		}
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", fmt.Sprintf("[sankalp] dispatch pass: %d sent, %d failed", result.Sent, result.Failed))
	msg.SetBody("text/plain", body)

	d := gomail.NewDialer(m.Host, m.Port, m.User, m.Pass)
	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("alert send: %w", err)
	}
	return nil
}

// Package email provides the email client for sending operational alerts.
package email

import (
	"fmt"
	"os"
	"time"

	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/email/templates"
	"github.com/resendlabs/resend-go"
)

// Service defines the interface for sending alerts, allowing for mock implementations in tests.
type Service interface {
	SendRefreshFailureAlert(view, reason string, consecutiveFailures int) error
	SendLockLeakAlert(view string, heldFor time.Duration) error
}

// ResendClient is the concrete implementation of the email Service using the Resend API.
type ResendClient struct {
	client    *resend.Client
	fromEmail string
	fromName  string
	toEmail   string
}

// NewService creates a new alert email client, returning the Service interface.
func NewService(toEmail string) (Service, error) {
	apiKey := os.Getenv("RESEND_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY environment variable is required")
	}
	if toEmail == "" {
		return nil, fmt.Errorf("alert recipient address is required")
	}

	fromEmail := os.Getenv("ALERT_EMAIL_FROM")
	if fromEmail == "" {
		fromEmail = "alerts@treeline.local"
	}

	fromName := os.Getenv("ALERT_EMAIL_FROM_NAME")
	if fromName == "" {
		fromName = "Treeline"
	}

	return &ResendClient{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
		toEmail:   toEmail,
	}, nil
}

// SendRefreshFailureAlert reports a view whose refreshes keep failing.
func (c *ResendClient) SendRefreshFailureAlert(view, reason string, consecutiveFailures int) error {
	subject := fmt.Sprintf("Treeline: snapshot %q failing to refresh", view)

	htmlContent := templates.GetAlertEmail(templates.AlertEmailProps{
		Title: "Snapshot refresh failing",
		Lines: []string{
			fmt.Sprintf("View %q has failed %d consecutive refreshes.", view, consecutiveFailures),
			fmt.Sprintf("Last failure: %s", reason),
			"Queries are still served from the previous snapshot; data is growing stale.",
		},
	})

	return c.send(subject, htmlContent)
}

// SendLockLeakAlert reports a refresh lock held beyond the sanity threshold.
func (c *ResendClient) SendLockLeakAlert(view string, heldFor time.Duration) error {
	subject := fmt.Sprintf("Treeline: refresh lock for %q appears leaked", view)

	htmlContent := templates.GetAlertEmail(templates.AlertEmailProps{
		Title: "Refresh lock possibly leaked",
		Lines: []string{
			fmt.Sprintf("The refresh lock for view %q has been held for %s.", view, heldFor.Round(time.Second)),
			"Automatic refreshes for this view are stalled until the lock clears.",
			"Inspect the holder and force-release the lock if it has crashed.",
		},
	})

	return c.send(subject, htmlContent)
}

func (c *ResendClient) send(subject, htmlContent string) error {
	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail),
		To:      []string{c.toEmail},
		Subject: subject,
		Html:    htmlContent,
	}

	_, err := c.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send alert email via Resend: %w", err)
	}

	return nil
}

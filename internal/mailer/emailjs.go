package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"aquastore/internal/config"
)

const defaultAPIURL = "https://api.emailjs.com/api/v1.0/email/send"

// Mailer dispatches a templated email. Implementations are fire-and-forget
// from the caller's point of view: a returned error is for logging only and
// must never fail the operation that triggered the send.
type Mailer interface {
	Send(ctx context.Context, templateID string, params map[string]string) error
}

// EmailJSMailer sends email through the EmailJS REST API.
type EmailJSMailer struct {
	cfg    config.EmailJSConfig
	apiURL string
	client *http.Client
}

// NewEmailJSMailer creates a mailer backed by the EmailJS REST API.
func NewEmailJSMailer(cfg config.EmailJSConfig) *EmailJSMailer {
	return &EmailJSMailer{
		cfg:    cfg,
		apiURL: defaultAPIURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewEmailJSMailerWithURL is used by tests to point the mailer at a stub server.
func NewEmailJSMailerWithURL(cfg config.EmailJSConfig, apiURL string) *EmailJSMailer {
	m := NewEmailJSMailer(cfg)
	m.apiURL = apiURL
	return m
}

type sendRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	TemplateParams map[string]string `json:"template_params"`
}

// Send posts one templated email to EmailJS.
func (m *EmailJSMailer) Send(ctx context.Context, templateID string, params map[string]string) error {
	payload := sendRequest{
		ServiceID:      m.cfg.ServiceID,
		TemplateID:     templateID,
		UserID:         m.cfg.UserID,
		TemplateParams: params,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("emailjs returned status %d", resp.StatusCode)
	}

	return nil
}

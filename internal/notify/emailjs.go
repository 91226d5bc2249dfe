package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultEmailJSEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

// EmailJSConfig holds the EmailJS account identifiers.
type EmailJSConfig struct {
	Endpoint   string
	ServiceID  string
	TemplateID string
	PublicKey  string
	PrivateKey string
	HTTPClient *http.Client
}

// EmailJSSender posts templated e-mails to the EmailJS REST API.
type EmailJSSender struct {
	endpoint   string
	serviceID  string
	templateID string
	publicKey  string
	privateKey string
	httpClient *http.Client
}

type emailJSRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	AccessToken    string            `json:"accessToken,omitempty"`
	TemplateParams map[string]string `json:"template_params"`
}

// NewEmailJSSender validates cfg.
func NewEmailJSSender(cfg EmailJSConfig) (*EmailJSSender, error) {
	serviceID := strings.TrimSpace(cfg.ServiceID)
	templateID := strings.TrimSpace(cfg.TemplateID)
	publicKey := strings.TrimSpace(cfg.PublicKey)
	if serviceID == "" || templateID == "" || publicKey == "" {
		return nil, fmt.Errorf("emailjs service id, template id and public key are required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEmailJSEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &EmailJSSender{
		endpoint:   endpoint,
		serviceID:  serviceID,
		templateID: templateID,
		publicKey:  publicKey,
		privateKey: strings.TrimSpace(cfg.PrivateKey),
		httpClient: client,
	}, nil
}

func (s *EmailJSSender) Send(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(emailJSRequest{
		ServiceID:   s.serviceID,
		TemplateID:  s.templateID,
		UserID:      s.publicKey,
		AccessToken: s.privateKey,
		TemplateParams: map[string]string{
			"title":      notification.Title,
			"name":       notification.Nickname,
			"message":    notification.Content,
			"site_url":   notification.SiteURL,
			"message_id": notification.MessageID,
			"timestamp":  displayTime(notification.Timestamp),
		},
	})
	if err != nil {
		return fmt.Errorf("encode emailjs payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("emailjs request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return fmt.Errorf("emailjs returned status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Package sms delivers text messages through an HTTP webhook gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrInvalidPhone = errors.New("invalid phone number")

type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

// New picks the sender for provider. Anything but "noop" goes to the webhook,
// so a misconfigured gateway fails at send time and is recorded as such.
func New(provider, url, token string) Sender {
	if strings.EqualFold(strings.TrimSpace(provider), "noop") {
		return NoopSender{}
	}
	return NewWebhookSender(url, token)
}

// NormalizePhone returns phone in E.164 form. Local Vietnamese numbers
// ("0901234567") get the +84 country code.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
		}
	}
	n := b.String()
	switch {
	case strings.HasPrefix(n, "+"):
	case strings.HasPrefix(n, "00"):
		n = "+" + n[2:]
	case strings.HasPrefix(n, "0"):
		n = "+84" + n[1:]
	default:
		n = "+" + n
	}
	if digits := len(n) - 1; digits < 8 || digits > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return n, nil
}

// WebhookSender posts {"to","body"} to a gateway, authenticated with a bearer
// token when one is configured.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *WebhookSender) ProviderID() string { return "sms-webhook" }

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.url == "" {
		return errors.New("sms webhook url not configured")
	}
	phone, err := NormalizePhone(to)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}{phone, body})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sms webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// NoopSender accepts every message. Used when no gateway is configured.
type NoopSender struct{}

func (NoopSender) ProviderID() string { return "sms-noop" }

func (NoopSender) Send(context.Context, string, string) error { return nil }

package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Mailgun is a typed client for Mailgun's message-send endpoint.
type Mailgun struct {
	apiURL string // full messages endpoint, e.g. https://api.mailgun.net/v3/<domain>/messages
	apiKey string
	from   string
	cc     string
	client *http.Client
	logger *slog.Logger
}

type MailgunConfig struct {
	APIURL  string
	APIKey  string
	Address string // the From address
	CC      string // optional CC on every outbound reply
	Logger  *slog.Logger
}

func NewMailgun(cfg MailgunConfig) *Mailgun {
	return &Mailgun{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		from:   cfg.Address,
		cc:     cfg.CC,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: cfg.Logger,
	}
}

// Send posts one outbound message as an urlencoded form with basic auth
// derived from the API key.
func (m *Mailgun) Send(ctx context.Context, to, subject, text, inReplyTo string) error {
	form := url.Values{}
	form.Set("from", m.from)
	form.Set("to", to)
	form.Set("subject", subject)
	form.Set("text", text)
	if m.cc != "" {
		form.Set("cc", m.cc)
	}
	if inReplyTo != "" {
		form.Set("h:In-Reply-To", inReplyTo)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mailgun %d: %s", resp.StatusCode, string(body))
	}

	m.logger.Debug("mail sent", "to", to, "subject", subject)
	return nil
}

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"supportbot/internal/domain"
	"supportbot/internal/metrics"
)

// Email ingests inbound mail through a webhook HTTP endpoint and delivers
// replies through Mailgun.
type Email struct {
	listenAddr string
	path       string
	signature  string
	mailgun    *Mailgun

	bus    domain.EventBus
	logger *slog.Logger
	server *http.Server
}

type EmailConfig struct {
	ListenAddr string // default :3030
	Path       string // webhook URL path, default /support-bot-email
	Signature  string // appended to every outbound reply
	Mailgun    *Mailgun
	Logger     *slog.Logger
}

func NewEmail(cfg EmailConfig) *Email {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3030"
	}
	if cfg.Path == "" {
		cfg.Path = "/support-bot-email"
	}
	return &Email{
		listenAddr: cfg.ListenAddr,
		path:       cfg.Path,
		signature:  cfg.Signature,
		mailgun:    cfg.Mailgun,
		logger:     cfg.Logger,
	}
}

func (e *Email) Name() string { return "email" }

// Start runs the inbound webhook server until ctx is cancelled.
func (e *Email) Start(ctx context.Context, bus domain.EventBus) error {
	e.bus = bus

	mux := http.NewServeMux()
	mux.HandleFunc(e.path, e.handleInbound)

	e.server = &http.Server{
		Addr:              e.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	bus.OnOutbound(domain.PlatformEmail, func(msg domain.OutboundMessage) {
		text := msg.Text
		if e.signature != "" {
			text += "\n\n" + e.signature
		}
		subject := msg.Subject
		if subject != "" && !strings.HasPrefix(subject, "Re:") {
			subject = "Re: " + subject
		}
		if err := e.mailgun.Send(context.Background(), msg.To, subject, text, msg.InReplyTo); err != nil {
			metrics.SendFailures.Inc()
			e.logger.Error("email send failed", "to", msg.To, "error", err)
		}
	})

	e.logger.Info("email webhook starting", "addr", e.listenAddr, "path", e.path)

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.server.Shutdown(shutdownCtx)
		e.logger.Info("email webhook stopped")
		return nil
	case err := <-errCh:
		return fmt.Errorf("email webhook: %w", err)
	}
}

// handleInbound accepts a Mailgun inbound-route POST. A malformed sender is
// recovered locally: the item is discarded, never a hard failure.
func (e *Email) handleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		e.logger.Warn("bad inbound mail form", "error", err)
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	subject := r.FormValue("subject")
	body := r.FormValue("body-plain")
	from := r.FormValue("from")
	messageID := r.FormValue("Message-Id")

	name, addr, err := parseSender(from)
	if err != nil {
		// 200 so the provider does not retry an item we will never accept.
		e.logger.Warn("discarding mail with unparseable sender", "from", from, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if strings.TrimSpace(body) == "" {
		e.logger.Warn("discarding mail with empty body", "from", addr)
		w.WriteHeader(http.StatusOK)
		return
	}

	metrics.UpdatesPolled.Inc()
	e.logger.Info("inbound mail received",
		"from", addr,
		"subject", subject,
		"body_len", len(body),
	)

	e.bus.Publish(domain.InboundEvent{
		Platform:   domain.PlatformEmail,
		Text:       body,
		SenderName: name,
		SenderAddr: addr,
		Subject:    subject,
		EmailID:    messageID,
	})
	w.WriteHeader(http.StatusOK)
}

// parseSender splits `Name <addr@example.com>` with a fixed grammar: the
// display name is everything before '<', the address everything inside the
// angle brackets.
func parseSender(s string) (name, addr string, err error) {
	lt := strings.Index(s, "<")
	gt := strings.LastIndex(s, ">")
	if lt < 0 || gt < lt {
		return "", "", fmt.Errorf("sender %q does not match Name <addr> grammar", s)
	}
	name = strings.TrimSpace(s[:lt])
	addr = strings.TrimSpace(s[lt+1 : gt])
	if addr == "" {
		return "", "", fmt.Errorf("sender %q has empty address", s)
	}
	return name, addr, nil
}

package notify

import (
	"context"
	"fmt"
	"html"

	"gopkg.in/gomail.v2"

	"dealflow/internal/config"
	"dealflow/internal/domain"
)

// Mailer emails notifications of selected kinds, by default only won deals.
type Mailer struct {
	From  string
	To    []string
	Kinds map[string]struct{}
	Send  func(m *gomail.Message) error
}

func NewMailer(cfg config.MailConfig) *Mailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = []string{domain.NotifyDealWon}
	}
	m := &Mailer{
		From:  cfg.From,
		To:    cfg.To,
		Kinds: make(map[string]struct{}, len(kinds)),
		Send:  func(msg *gomail.Message) error { return d.DialAndSend(msg) },
	}
	for _, k := range kinds {
		m.Kinds[k] = struct{}{}
	}
	return m
}

func (m *Mailer) Wants(kind string) bool {
	_, ok := m.Kinds[kind]
	return ok
}

func (m *Mailer) Compose(n domain.Notification) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", fmt.Sprintf("%s %s", n.Icon, n.Message))
	msg.SetBody("text/html", fmt.Sprintf("<p>%s</p><p><small>%s at %s</small></p>",
		html.EscapeString(n.Message), html.EscapeString(n.Kind), html.EscapeString(n.At)))
	return msg
}

func (m *Mailer) Observe(_ context.Context, n domain.Notification) error {
	if !m.Wants(n.Kind) {
		return nil
	}
	if err := m.Send(m.Compose(n)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

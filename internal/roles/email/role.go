// Package email implements the email-sender session role: a runtime-only,
// event-triggered effect with no persisted state. No third-party SMTP
// client appears anywhere in this runtime's examples, so the effect is sent
// with the standard library's net/smtp — see the design ledger for why that
// is the one ambient concern this runtime carries on the standard library
// rather than an ecosystem package.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/domain/session"
)

// Config is the node.config shape the email role reads.
type Config struct {
	SMTPAddr    string // host:port
	From        string
	To          string
	SubjectTmpl string
	Alignment   routing.AlignmentPolicy // TASKING closes after one send; AGENT_DRIVEN keeps receiving
	Auth        smtp.Auth
}

// Sender abstracts the wire effect so tests never dial a real SMTP server.
type Sender interface {
	Send(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

type netSender struct{}

func (netSender) Send(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, auth, from, to, msg)
}

// Role implements session.Role for an email-sender-type node.
type Role struct {
	cfg    Config
	sender Sender
	logger *slog.Logger

	sent bool
}

// New builds an email Role. A nil sender defaults to the real net/smtp
// effect.
func New(cfg Config, sender Sender, logger *slog.Logger) *Role {
	if sender == nil {
		sender = netSender{}
	}
	return &Role{cfg: cfg, sender: sender, logger: logger}
}

var _ session.Role = (*Role)(nil)

func (r *Role) OnInitialize(ctx context.Context, s *session.Session) error { return nil }

func (r *Role) HandleEvent(ctx context.Context, s *session.Session, ev mesh.Event) error {
	body := fmt.Sprintf("%v", ev.Payload)
	subject := r.cfg.SubjectTmpl
	if subject == "" {
		subject = "[" + ev.EventType + "]"
	}
	msg := []byte(fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\n\r\n%s\r\n", r.cfg.To, r.cfg.From, subject, body))

	// Transient SMTP failures are logged, not propagated as a reason to
	// close a long-lived node — only the conversational session closure
	// policy below governs that.
	if err := r.sender.Send(r.cfg.SMTPAddr, r.cfg.Auth, r.cfg.From, []string{r.cfg.To}, msg); err != nil {
		r.logger.Error("email send failed", "session_id", s.ID, "err", err)
		return nil
	}
	r.sent = true
	return nil
}

// ShouldCloseAfterEvent: a TASKING-aligned email session sends exactly once
// per session; AGENT_DRIVEN alignment keeps the session open for follow-up
// sends.
func (r *Role) ShouldCloseAfterEvent(ev mesh.Event) bool {
	return r.sent && r.cfg.Alignment != routing.AgentDriven
}

func (r *Role) OnClose(ctx context.Context, s *session.Session) error { return nil }

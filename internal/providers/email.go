package providers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"health-service/internal/config"
	"health-service/internal/models"
)

type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends notifications through an SMTP relay.
type Email struct {
	server   string
	port     int
	username string
	password string
	fromName string
	sendMail sendMailFunc
}

// NewEmail creates an SMTP provider from the email settings.
func NewEmail(cfg config.Config) *Email {
	return &Email{
		server:   cfg.Email.SMTPServer,
		port:     cfg.Email.SMTPPort,
		username: cfg.Email.Username,
		password: cfg.Email.Password,
		fromName: cfg.Email.FromName,
		sendMail: sendMail,
	}
}

// SplitAddresses parses a semicolon separated address list.
func SplitAddresses(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Send delivers n to every recipient in a single message.
func (e *Email) Send(ctx context.Context, n models.Notification) error {
	if len(n.Recipients) == 0 {
		return fmt.Errorf("no email recipients for rule %s", n.RuleID)
	}
	if e.server == "" || e.port == 0 || e.username == "" || e.password == "" {
		return fmt.Errorf("missing Email configuration: SMTPServer, SMTPPort, Username, or Password is empty")
	}

	from := e.username
	if e.fromName != "" {
		from = fmt.Sprintf("%s <%s>", e.fromName, e.username)
	}
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, strings.Join(n.Recipients, ", "), n.Subject, n.Body)

	auth := smtp.PlainAuth("", e.username, e.password, e.server)
	addr := fmt.Sprintf("%s:%d", e.server, e.port)
	if err := e.sendMail(ctx, addr, auth, e.username, n.Recipients, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", strings.Join(n.Recipients, ";"), err)
	}
	return nil
}

// sendMail is smtp.SendMail bounded by ctx: the dial honours ctx, the session
// runs under its deadline and cancellation closes the connection.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) (err error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
	}()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

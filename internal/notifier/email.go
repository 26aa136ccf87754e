package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"MarketScanner/internal/retry"
)

// Default relay: implicit TLS on port 465.
const (
	DefaultSMTPHost = "smtp.gmail.com"
	DefaultSMTPPort = 465
)

// SendFunc delivers a fully formed message. It matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends plain-text mail through an authenticated SMTP relay.
type EmailNotifier struct {
	Host     string
	Port     int
	Sender   string
	Receiver string
	Password string
	Retry    retry.Policy
	// SendMail is replaced in tests; the default dials the relay over TLS.
	SendMail SendFunc
	Now      func() time.Time
}

// NewEmailNotifier creates a notifier for the given relay and credentials.
func NewEmailNotifier(host string, port int, sender, receiver, password string) *EmailNotifier {
	if host == "" {
		host = DefaultSMTPHost
	}
	if port == 0 {
		port = DefaultSMTPPort
	}
	return &EmailNotifier{
		Host:     host,
		Port:     port,
		Sender:   sender,
		Receiver: receiver,
		Password: password,
		Retry:    retry.Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second},
		SendMail: sendMailTLS,
		Now:      time.Now,
	}
}

func (e *EmailNotifier) Name() string { return "email" }

// Send delivers the message, retrying transient relay failures.
func (e *EmailNotifier) Send(ctx context.Context, subject, body string) error {
	if e.Sender == "" || e.Receiver == "" {
		return fmt.Errorf("email sender and receiver are required")
	}
	msg := buildMessage(e.Sender, e.Receiver, subject, body, e.Now())
	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	auth := smtp.PlainAuth("", e.Sender, e.Password, e.Host)

	return retry.Do(ctx, e.Retry, func(context.Context) error {
		if err := e.SendMail(addr, auth, e.Sender, []string{e.Receiver}, msg); err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	})
}

func buildMessage(from, to, subject, body string, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(body)
	return b.Bytes()
}

// sendMailTLS is smtp.SendMail over an implicit TLS connection.
func sendMailTLS(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	return deliver(conn, host, a, from, to, msg)
}

// deliver runs the SMTP exchange on an established connection.
func deliver(conn net.Conn, host string, a smtp.Auth, from string, to []string, msg []byte) error {
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Auth(a); err != nil {
		return retry.Permanent(fmt.Errorf("auth: %w", err))
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
	// The relay has accepted the message; a failed QUIT must not trigger a resend.
	if err := c.Quit(); err != nil {
		log.Printf("[WARN] smtp quit: %v", err)
	}
	return nil
}

package mail

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QRFox/internal/pkg/env"
)

const DefaultSMTPTimeout = 10 * time.Second

// SMTPConfig holds the relay settings read from SMTP_*.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
	// Timeout bounds the whole exchange with the relay, dial included.
	Timeout time.Duration
}

func SMTPConfigFromEnv() SMTPConfig {
	cfg := SMTPConfig{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   env.GetEnv("SMTP_SENDER", ""),
		Timeout:  DefaultSMTPTimeout,
	}
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
	}
	if raw := env.GetEnv("SMTP_TIMEOUT", ""); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Timeout = d
		} else {
			log.Warnf("Ignoring invalid SMTP_TIMEOUT %q", raw)
		}
	}
	return cfg
}

// Enabled reports whether a relay host is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// SendFunc delivers one HTML mail.
type SendFunc func(to, subject, body string) error

// NewSMTPSender returns a SendFunc that relays through cfg. Webhook handlers
// call it inline, so every send gives up after cfg.Timeout.
func NewSMTPSender(cfg SMTPConfig) SendFunc {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	return func(to, subject, body string) error {
		addr := net.JoinHostPort(cfg.Host, cfg.Port)
		if err := cfg.send(addr, to, buildMessage(cfg.Sender, to, subject, body)); err != nil {
			log.Errorf("SMTP send error: %v", err)
			return err
		}
		log.Infof("Email sent to %s via %s", to, addr)
		return nil
	}
}

func (c SMTPConfig) send(addr, to string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, c.Timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
		conn.Close()
		return err
	}
	client, err := smtp.NewClient(conn, c.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("greeting from %s: %w", addr, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if c.Username != "" && c.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", c.Username, c.Password, c.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(c.Sender); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMessage(from, to, subject, body string) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)
}

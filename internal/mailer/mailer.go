// Package mailer delivers OTP and password reset emails.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/config"
)

type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

var otpTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>OTP Verification Email</title>
</head>
<body style="font-family: Arial, sans-serif; background-color: #f2f2f2;">
<div style="background-color: #ffffff; max-width: 600px; margin: 0 auto; padding: 20px; border-radius: 10px;">
<h1 style="background-color: #4CAF50; color: white; padding: 10px; text-align: center;">OTP Verification</h1>
<p>Dear {{.Email}},</p>
<p>Please use the following OTP to verify your email address:</p>
<p style="font-size: 24px; font-weight: bold; text-align: center;">{{.Code}}</p>
<p>This OTP is valid for {{.Validity}}.</p>
<p style="color: #999999; text-align: center;">If you did not request this, please ignore this email.</p>
</div>
</body>
</html>`))

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Password Reset</title>
</head>
<body style="font-family: Arial, sans-serif;">
<p>Dear {{.Email}},</p>
<p>Use the following token to reset your admin password. It is valid for 30 minutes.</p>
<p style="font-family: monospace; font-size: 16px;">{{.Token}}</p>
<p>If you did not request a reset, you can ignore this email.</p>
</body>
</html>`))

func renderOTP(email, code string, validity time.Duration) (string, error) {
	var buf bytes.Buffer
	err := otpTemplate.Execute(&buf, struct {
		Email, Code, Validity string
	}{email, code, validity.String()})
	return buf.String(), err
}

func renderReset(email, token string) (string, error) {
	var buf bytes.Buffer
	err := resetTemplate.Execute(&buf, struct {
		Email, Token string
	}{email, token})
	return buf.String(), err
}

// SMTPMailer sends HTML mail through an SMTP relay. Port 465 uses implicit
// TLS; other ports go through smtp.SendMail, which upgrades with STARTTLS when
// the server offers it.
type SMTPMailer struct {
	cfg      config.MailConfig
	validity time.Duration
	logger   *logrus.Logger
}

func NewSMTPMailer(cfg config.MailConfig, otpValidity time.Duration, logger *logrus.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, validity: otpValidity, logger: logger}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, to, code string) error {
	body, err := renderOTP(to, code, m.validity)
	if err != nil {
		return fmt.Errorf("render otp mail: %w", err)
	}
	return m.send(ctx, to, "OTP Verification", body)
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, token string) error {
	body, err := renderReset(to, token)
	if err != nil {
		return fmt.Errorf("render reset mail: %w", err)
	}
	return m.send(ctx, to, "Password Reset", body)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from, err := mail.ParseAddress(m.cfg.From)
	if err != nil {
		return fmt.Errorf("invalid MAIL_FROM: %w", err)
	}

	msg := buildMessage(m.cfg.From, to, subject, body)
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if m.cfg.Port != 465 {
		return smtp.SendMail(addr, auth, from.Address, []string{to}, msg)
	}

	dialer := &tls.Dialer{Config: &tls.Config{ServerName: m.cfg.Host}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Quit()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from.Address); err != nil {
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
	return w.Close()
}

func buildMessage(from, to, subject, body string) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\n", from) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"utf-8\"\r\n" +
			"\r\n" +
			body,
	)
}

// LogMailer writes codes to the log instead of sending them. Used when no
// SMTP host is configured.
type LogMailer struct {
	logger *logrus.Logger
}

func NewLogMailer(logger *logrus.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendOTP(_ context.Context, to, code string) error {
	m.logger.WithFields(logrus.Fields{
		"email": to,
		"otp":   code,
	}).Info("OTP generated (mail transport disabled)")
	return nil
}

func (m *LogMailer) SendPasswordReset(_ context.Context, to, token string) error {
	m.logger.WithFields(logrus.Fields{
		"email": to,
		"token": token,
	}).Info("Password reset token generated (mail transport disabled)")
	return nil
}

// New picks the SMTP transport when a host is configured.
func New(cfg config.MailConfig, otpValidity time.Duration, logger *logrus.Logger) Mailer {
	if cfg.Enabled() {
		return NewSMTPMailer(cfg, otpValidity, logger)
	}
	logger.Warn("MAIL_HOST not set, OTP codes will be logged instead of mailed")
	return NewLogMailer(logger)
}

package mailer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/config"
)

func TestRenderOTP(t *testing.T) {
	body, err := renderOTP("a@example.com", "123456", time.Minute)
	if err != nil {
		t.Fatalf("renderOTP: %v", err)
	}
	for _, want := range []string{"OTP Verification", "a@example.com", "123456", "1m0s"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %q", want)
		}
	}
}

func TestRenderEscapesRecipient(t *testing.T) {
	body, err := renderReset("<script>@example.com", "tok")
	if err != nil {
		t.Fatalf("renderReset: %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Fatal("expected recipient to be HTML escaped")
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(buildMessage(`"Task App" <support@taskapp.local>`, "a@example.com", "OTP Verification", "<p>hi</p>"))
	if !strings.HasPrefix(msg, "From: \"Task App\" <support@taskapp.local>\r\n") {
		t.Fatalf("unexpected headers: %q", msg)
	}
	if !strings.Contains(msg, "Content-Type: text/html; charset=\"utf-8\"\r\n\r\n<p>hi</p>") {
		t.Fatalf("expected html body after headers: %q", msg)
	}
}

func TestNewFallsBackToLogMailer(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	m := New(config.MailConfig{}, time.Minute, logger)
	if _, ok := m.(*LogMailer); !ok {
		t.Fatalf("expected LogMailer, got %T", m)
	}

	if err := m.SendOTP(context.Background(), "a@example.com", "654321"); err != nil {
		t.Fatalf("SendOTP: %v", err)
	}
	if !strings.Contains(buf.String(), `"otp":"654321"`) {
		t.Fatalf("expected code in log output, got %s", buf.String())
	}
}

func TestSMTPMailerRejectsBadFrom(t *testing.T) {
	m := NewSMTPMailer(config.MailConfig{Host: "localhost", Port: 2525, From: "not an address"}, time.Minute, logrus.New())
	if err := m.SendOTP(context.Background(), "a@example.com", "123456"); err == nil {
		t.Fatal("expected invalid from address error")
	}
}

package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/infra/config"
)

func TestKavenegarGatewayUsesLookupTemplate(t *testing.T) {
	var gotPath, gotToken, gotTemplate, gotReceptor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotPath = r.URL.Path
		gotToken = r.PostForm.Get("token")
		gotTemplate = r.PostForm.Get("template")
		gotReceptor = r.PostForm.Get("receptor")
		_, _ = w.Write([]byte(`{"return":{"status":200,"message":"ok"},"entries":[]}`))
	}))
	defer srv.Close()

	gateway, err := NewKavenegarGateway(config.SMSSettings{
		APIKey:    "key",
		BaseURL:   srv.URL,
		Templates: map[string]string{"login": "auth-login"},
	}, srv.Client(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewKavenegarGateway returned error: %v", err)
	}

	msg := domain.Message{Purpose: domain.OtpPurposeLogin, Code: "012345", Body: "code 012345"}
	if err := gateway.Send(context.Background(), "+989123456789", domain.ChannelSMS, msg); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotPath != "/v1/key/verify/lookup.json" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotToken != "012345" || gotTemplate != "auth-login" || gotReceptor != "989123456789" {
		t.Fatalf("unexpected form token=%s template=%s receptor=%s", gotToken, gotTemplate, gotReceptor)
	}
}

func TestKavenegarGatewayPlainMessageAndFailure(t *testing.T) {
	var gotPath, gotSender string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotPath = r.URL.Path
		gotSender = r.PostForm.Get("sender")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"return":{"status":411,"message":"invalid receptor"}}`))
	}))
	defer srv.Close()

	gateway, _ := NewKavenegarGateway(config.SMSSettings{APIKey: "key", BaseURL: srv.URL, Sender: "10004346"}, srv.Client(), nil)

	err := gateway.Send(context.Background(), "+98912", domain.ChannelSMS, domain.Message{Purpose: domain.OtpPurposePhoneVerify, Body: "hello"})
	if err == nil || !strings.Contains(err.Error(), "invalid receptor") {
		t.Fatalf("expected provider error, got %v", err)
	}
	if gotPath != "/v1/key/sms/send.json" || gotSender != "10004346" {
		t.Fatalf("unexpected request path=%s sender=%s", gotPath, gotSender)
	}
}

func TestKavenegarGatewayTransportErrorOmitsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	const apiKey = "kv-secret-4f1c9a"
	gateway, err := NewKavenegarGateway(config.SMSSettings{APIKey: apiKey, BaseURL: baseURL}, &http.Client{Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewKavenegarGateway returned error: %v", err)
	}

	for _, msg := range []domain.Message{
		{Purpose: domain.OtpPurposePhoneVerify, Body: "hello"},
		{Purpose: domain.OtpPurposeLogin, Code: "012345"},
	} {
		err := gateway.Send(context.Background(), "+989123456789", domain.ChannelSMS, msg)
		if err == nil {
			t.Fatalf("expected transport error against a closed server")
		}
		if strings.Contains(err.Error(), apiKey) {
			t.Fatalf("error text leaks the api key: %v", err)
		}
	}
}

func TestKavenegarGatewayTransportErrorKeepsCause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gateway, _ := NewKavenegarGateway(config.SMSSettings{APIKey: "kv-secret", BaseURL: "http://127.0.0.1:1"}, nil, nil)
	err := gateway.Send(ctx, "+989123456789", domain.ChannelSMS, domain.Message{Body: "hello"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled to survive redaction, got %v", err)
	}
	if strings.Contains(err.Error(), "kv-secret") {
		t.Fatalf("error text leaks the api key: %v", err)
	}
}

func TestKavenegarGatewayRequiresAPIKey(t *testing.T) {
	if _, err := NewKavenegarGateway(config.SMSSettings{}, nil, nil); err == nil {
		t.Fatalf("expected missing api key to fail")
	}
}

type recordingPublisher struct {
	exchange   string
	routingKey string
	body       any
	err        error
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey string, body any) error {
	p.exchange, p.routingKey, p.body = exchange, routingKey, body
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestEmailGatewayPublishes(t *testing.T) {
	publisher := &recordingPublisher{}
	gateway := NewEmailGateway(publisher, "auth.notifications", "email.send")

	msg := domain.NewOtpMessage(domain.OtpPurposeEmailVerify, "654321", 0)
	if err := gateway.Send(context.Background(), "user@example.com", domain.ChannelEmail, msg); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if publisher.exchange != "auth.notifications" || publisher.routingKey != "email.send" {
		t.Fatalf("unexpected routing %s/%s", publisher.exchange, publisher.routingKey)
	}
	payload, ok := publisher.body.(EmailMessage)
	if !ok {
		t.Fatalf("unexpected payload type %T", publisher.body)
	}
	if payload.To != "user@example.com" || payload.Template != "auth.email_verify" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	publisher.err = errors.New("channel closed")
	if err := gateway.Send(context.Background(), "user@example.com", domain.ChannelEmail, msg); err == nil {
		t.Fatalf("expected publish failure to surface")
	}
}

func TestEmailGatewayUsesMessageTemplate(t *testing.T) {
	publisher := &recordingPublisher{}
	gateway := NewEmailGateway(publisher, "auth.notifications", "email.send")

	at := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)
	msg := domain.NewSecurityAlertMessage(domain.AlertPasswordChanged, "203.0.113.7", at, nil)
	if err := gateway.Send(context.Background(), "user@example.com", domain.ChannelEmail, msg); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	payload := publisher.body.(EmailMessage)
	if payload.Template != "auth.security_alert.password_changed" {
		t.Fatalf("unexpected template %q", payload.Template)
	}
	variables, ok := payload.Variables.(map[string]string)
	if !ok || variables["ip_address"] != "203.0.113.7" {
		t.Fatalf("unexpected variables: %#v", payload.Variables)
	}
	if _, hasCode := variables["code"]; hasCode {
		t.Fatalf("alert must not carry a code variable")
	}
}

type countingGateway struct{ calls int }

func (g *countingGateway) Send(context.Context, string, domain.Channel, domain.Message) error {
	g.calls++
	return nil
}

func TestRouterDispatchesByChannel(t *testing.T) {
	sms := &countingGateway{}
	email := &countingGateway{}
	router := NewRouter().Register(domain.ChannelSMS, sms).Register(domain.ChannelEmail, email)

	_ = router.Send(context.Background(), "+989123456789", domain.ChannelSMS, domain.Message{})
	_ = router.Send(context.Background(), "user@example.com", domain.ChannelEmail, domain.Message{})
	_ = router.Send(context.Background(), "user@example.com", domain.ChannelEmail, domain.Message{})

	if sms.calls != 1 || email.calls != 2 {
		t.Fatalf("unexpected dispatch sms=%d email=%d", sms.calls, email.calls)
	}
	if err := NewRouter().Send(context.Background(), "x", domain.ChannelSMS, domain.Message{}); err == nil {
		t.Fatalf("expected unregistered channel to fail")
	}
}

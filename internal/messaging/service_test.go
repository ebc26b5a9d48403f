package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ReplyPipe/internal/gateway"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
)

func TestServiceNames(t *testing.T) {
	tests := []struct {
		svc  Service
		want string
	}{
		{NewGatewayService(nil), TransportGateway},
		{NewTwilioService(nil), TransportTwilio},
		{NewWhatsAppService(nil), TransportWhatsmeow},
	}
	for _, tt := range tests {
		if got := tt.svc.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}

func TestServices_NilClientIsNoop(t *testing.T) {
	for _, svc := range []Service{NewGatewayService(nil), NewTwilioService(nil), NewWhatsAppService(nil)} {
		res, err := svc.SendText(context.Background(), "213555123456", "hello")
		if err != nil || res != nil {
			t.Errorf("%s: expected nil, nil without client, got %+v, %v", svc.Name(), res, err)
		}
	}
}

func TestGatewayService_SendsThroughGateway(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"sent":true,"message":{"id":"gw-1","status":"pending"}}`))
	}))
	defer srv.Close()

	svc := NewGatewayService(gateway.NewClient(gateway.WithBaseURL(srv.URL), gateway.WithToken("t")))
	res, err := svc.SendText(context.Background(), "213555123456@s.whatsapp.net", "hello")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if hits != 1 || res == nil || res.ID != "gw-1" {
		t.Errorf("unexpected gateway call: hits=%d res=%+v", hits, res)
	}
}

func TestTwilioService_SendText(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	res, err := svc.SendText(context.Background(), "+213555123456", "hello")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if res == nil || res.ID == "" {
		t.Errorf("expected SID in result, got %+v", res)
	}
	if len(mock.SentMessages) != 1 {
		t.Errorf("expected one Twilio send, got %d", len(mock.SentMessages))
	}

	svc.Stop()
	if _, err := svc.SendText(context.Background(), "+213555123456", "x"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestMockService(t *testing.T) {
	m := NewMockService()
	m.FailFor = map[string]error{"bad": errors.New("boom")}
	if _, err := m.SendText(context.Background(), "bad", "x"); err == nil {
		t.Error("expected failure for listed chat")
	}
	if _, err := m.SendText(context.Background(), "good", "x"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got := m.Messages(); len(got) != 1 || got[0].To != "good" {
		t.Errorf("unexpected recorded sends: %+v", got)
	}
	if !m.Push(models.InboundMessage{ChatID: "c"}) {
		t.Error("expected Push to succeed before Stop")
	}
	m.Stop()
	if m.Push(models.InboundMessage{ChatID: "c"}) {
		t.Error("expected Push to fail after Stop")
	}
}

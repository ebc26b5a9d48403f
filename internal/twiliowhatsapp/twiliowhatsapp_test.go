package twiliowhatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
)

func TestMockClient_SendText(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	sid, err := mock.SendText(ctx, "+213555123456", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid == "" {
		t.Error("expected a message SID")
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(WithFromWhats("+15550001111")); err == nil {
		t.Error("expected error without account SID and auth token")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without sender number")
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("+15550001111"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+15550001111" {
		t.Errorf("expected prefixed sender, got %q", c.fromWhats)
	}
}

func TestWithChannelPrefix(t *testing.T) {
	if got := WithChannelPrefix("+213555123456"); got != "whatsapp:+213555123456" {
		t.Errorf("unexpected %q", got)
	}
	if got := WithChannelPrefix("whatsapp:+213555123456"); got != "whatsapp:+213555123456" {
		t.Errorf("prefix doubled: %q", got)
	}
}

func formRequest(t *testing.T, form url.Values) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := r.ParseForm(); err != nil {
		t.Fatalf("ParseForm failed: %v", err)
	}
	return r
}

func TestParseInbound(t *testing.T) {
	r := formRequest(t, url.Values{
		"From":       {"whatsapp:+213555123456"},
		"Body":       {"hello"},
		"MessageSid": {"SM0001"},
	})
	in, ok := ParseInbound(r)
	if !ok {
		t.Fatal("expected message to parse")
	}
	if in.ID != "SM0001" || in.ChatID != "+213555123456" || in.Body() != "hello" || in.FromMe {
		t.Errorf("unexpected inbound message: %+v", in)
	}

	status := formRequest(t, url.Values{"MessageSid": {"SM0002"}, "MessageStatus": {"delivered"}})
	if _, ok := ParseInbound(status); ok {
		t.Error("expected status callback to be skipped")
	}
}

// sign computes Twilio's signature: base64(HMAC-SHA1(url + sorted key/value pairs)).
func sign(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(u)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateRequest(t *testing.T) {
	const token = "secret-token"
	const publicURL = "https://replypipe.example.com/webhook/twilio"
	form := url.Values{"From": {"whatsapp:+213555123456"}, "Body": {"hi"}, "MessageSid": {"SM1"}}

	r := formRequest(t, form)
	r.Header.Set(SignatureHeader, sign(token, publicURL, form))
	if !ValidateRequest(token, publicURL, r) {
		t.Error("expected valid signature to pass")
	}

	bad := formRequest(t, form)
	bad.Header.Set(SignatureHeader, sign("other-token", publicURL, form))
	if ValidateRequest(token, publicURL, bad) {
		t.Error("expected signature with wrong token to fail")
	}
}

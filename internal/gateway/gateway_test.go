package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendText_Success(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sent":true,"message":{"id":"PsqXn5SAD5v7HRA-wHqB9tMeuU","status":"pending"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL+"/"), WithToken("tok-123"))
	res, err := c.SendText(context.Background(), "213555123456@s.whatsapp.net", "hi there")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if gotPath != "/messages/text" {
		t.Errorf("expected path /messages/text, got %q", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotBody.To != "213555123456@s.whatsapp.net" || gotBody.Body != "hi there" {
		t.Errorf("unexpected request body: %+v", gotBody)
	}
	if res == nil || res.ID != "PsqXn5SAD5v7HRA-wHqB9tMeuU" || res.Status != "pending" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSendText_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithToken("bad"))
	_, err := c.SendText(context.Background(), "213555123456", "hi")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 error, got %v", err)
	}
}

func TestSendText_MissingCredentialsIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	res, err := c.SendText(context.Background(), "213555123456", "hi")
	if err != nil || res != nil {
		t.Errorf("expected nil, nil without token, got %+v, %v", res, err)
	}
	if called {
		t.Error("expected no request without credentials")
	}
	if c.Configured() {
		t.Error("expected client to report missing configuration")
	}
}

func TestSendText_EmptyResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := NewClient(WithBaseURL(srv.URL), WithToken("t")).SendText(context.Background(), "1", "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.Status != "sent" {
		t.Errorf("expected default sent status, got %+v", res)
	}
}

// Package testutil provides common test utilities and helpers for ReplyPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
)

// TB is the subset of testing.TB the helpers use, so they can be exercised
// with a recording fake.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

var _ TB = (*testing.T)(nil)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertWebhookStatus decodes a webhook JSON response and validates its status field.
func AssertWebhookStatus(t TB, rr *httptest.ResponseRecorder, expected models.WebhookStatus) models.WebhookResponse {
	t.Helper()
	var response models.WebhookResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if response.Status != expected {
		t.Errorf("expected status '%s', got '%s'", expected, response.Status)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
// A string body is sent verbatim; anything else is JSON-encoded.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case string:
		reqBody = bytes.NewBufferString(b)
	default:
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, b))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// TextDelivery builds a one-item webhook payload.
func TextDelivery(chatID, body string) models.WebhookPayload {
	return models.WebhookPayload{Messages: []models.InboundMessage{{
		ChatID: chatID,
		Type:   "text",
		Text:   &models.TextBody{Body: body},
	}}}
}

// SeedClients inserts client records, failing the test on error.
func SeedClients(t TB, repo store.ClientRepo, clients ...models.ClientRecord) {
	t.Helper()
	for _, c := range clients {
		if err := repo.UpsertClient(context.Background(), c); err != nil {
			t.Fatalf("failed to seed client %s: %v", c.ID, err)
		}
	}
}

// AssertHistoryContents compares a session history against expected
// "role:content" entries.
func AssertHistoryContents(t TB, history []models.Message, expected []string, context string) {
	t.Helper()
	got := make([]string, len(history))
	for i, m := range history {
		got[i] = string(m.Role) + ":" + m.Content
	}
	if strings.Join(got, "|") != strings.Join(expected, "|") {
		t.Errorf("%s: history mismatch\nexpected: %v\nactual: %v", context, expected, got)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

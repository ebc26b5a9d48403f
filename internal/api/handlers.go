package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
)

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.webhookHandler(w, r)
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	setCORSHeaders(w)

	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Status(models.WebhookStatusActive))
		return
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload models.WebhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&payload); err != nil {
		slog.Error("Server.webhookHandler: failed to decode delivery", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}

	status, err := s.handler.HandleDelivery(r.Context(), payload)
	if err != nil {
		slog.Error("Server.webhookHandler: delivery failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Status(status))
}

func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.opts.TwilioAuthToken != "" {
		url := s.opts.TwilioWebhookURL
		if url == "" {
			url = requestURL(r)
		}
		if !twiliowhatsapp.ValidateRequest(s.opts.TwilioAuthToken, url, r) {
			slog.Warn("Server.twilioWebhookHandler: invalid Twilio signature", "url", url)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	msg, ok := twiliowhatsapp.ParseInbound(r)
	if !ok {
		slog.Debug("Server.twilioWebhookHandler: callback without text, ignoring")
		writeTwiML(w, http.StatusOK)
		return
	}

	payload := models.WebhookPayload{Messages: []models.InboundMessage{msg}}
	if _, err := s.handler.HandleDelivery(r.Context(), payload); err != nil {
		slog.Error("Server.twilioWebhookHandler: delivery failed", "error", err)
		writeTwiML(w, http.StatusInternalServerError)
		return
	}
	writeTwiML(w, http.StatusOK)
}

// requestURL rebuilds the URL Twilio called, honoring a TLS-terminating proxy.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWhatsAppSend(t *testing.T) {
	var gotAuth string
	var gotReq gatewaySendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(gatewaySendResponse{MessageID: "wamid.42"})
	}))
	defer srv.Close()

	ch := NewWhatsAppChannel(WhatsAppConfig{BaseURL: srv.URL, Token: "secret", Timeout: time.Second}, testLogger())
	msgID, err := ch.Send(context.Background(), "+15551234", Content{Text: "hello"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msgID != "wamid.42" {
		t.Errorf("expected wamid.42, got %q", msgID)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotReq.To != "+15551234" || gotReq.Body != "hello" {
		t.Errorf("unexpected request payload %+v", gotReq)
	}
}

func TestWhatsAppSendTemporaryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(gatewaySendResponse{Error: "overloaded"})
	}))
	defer srv.Close()

	ch := NewWhatsAppChannel(WhatsAppConfig{BaseURL: srv.URL}, testLogger())
	_, err := ch.Send(context.Background(), "+1555", Content{Text: "hi"})

	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if !derr.Temporary {
		t.Error("5xx must be classified temporary")
	}
}

func TestWhatsAppSendPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(gatewaySendResponse{Error: "invalid number"})
	}))
	defer srv.Close()

	ch := NewWhatsAppChannel(WhatsAppConfig{BaseURL: srv.URL}, testLogger())
	_, err := ch.Send(context.Background(), "not-a-number", Content{Text: "hi"})

	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if derr.Temporary {
		t.Error("4xx must be classified permanent")
	}
}

func TestWhatsAppSendUnreachable(t *testing.T) {
	ch := NewWhatsAppChannel(WhatsAppConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, testLogger())
	_, err := ch.Send(context.Background(), "+1555", Content{Text: "hi"})

	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if !derr.Temporary {
		t.Error("transport failure must be classified temporary")
	}
}

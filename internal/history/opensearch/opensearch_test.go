package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/hexanator/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL, receivedMethod, contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "test-index")
	event := history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Name: "aa", PID: 12345, Port: 40001}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedURL != "/test-index/_doc" {
		t.Errorf("Unexpected path: %s", receivedURL)
	}
	if contentType != "application/json" {
		t.Errorf("Unexpected content type: %s", contentType)
	}
	var got map[string]any
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["name"] != "aa" || got["type"] != "start" || got["port"] != float64(40001) {
		t.Fatalf("unexpected document: %v", got)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	if err := New(server.URL, "").Send(context.Background(), history.Event{Type: history.EventStop, Name: "aa"}); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}

func TestOpenSearchSink_DefaultIndex(t *testing.T) {
	if s := New("http://localhost:9200", ""); s.index != DefaultIndex {
		t.Fatalf("expected default index, got %q", s.index)
	}
}

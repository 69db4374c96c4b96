package token

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestQueryTokenExtract(t *testing.T) {
	r := httptest.NewRequest("GET", "/mattermost/manifest?auth_token=tok123", nil)
	got, err := QueryToken{}.Extract(r)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "tok123" {
		t.Errorf("token: got %q, want %q", got, "tok123")
	}

	r = httptest.NewRequest("GET", "/mattermost/manifest", nil)
	if _, err := (QueryToken{}).Extract(r); err != ErrNoToken {
		t.Errorf("missing token: got %v, want ErrNoToken", err)
	}
}

func TestStateTokenExtract(t *testing.T) {
	body := `{"context":{"app":{"app_id":"my-app"}},"state":{"auth_token":"tok456"}}`
	r := httptest.NewRequest("POST", "/mattermost/install", strings.NewReader(body))

	got, err := StateToken{}.Extract(r)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "tok456" {
		t.Errorf("token: got %q, want %q", got, "tok456")
	}

	// The body must remain readable for the downstream handler.
	rest, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("ReadAll after extract: %v", err)
	}
	if string(rest) != body {
		t.Errorf("body not re-buffered: got %q", rest)
	}
}

func TestStateTokenExtractMissing(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "not-json"},
		{"no state", `{"context":{}}`},
		{"empty token", `{"state":{"auth_token":""}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/mattermost/install", strings.NewReader(tt.body))
			if _, err := (StateToken{}).Extract(r); err != ErrNoToken {
				t.Errorf("got %v, want ErrNoToken", err)
			}
		})
	}
}

func TestBearerTokenExtract(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/call", nil)
	r.Header.Set("Authorization", "Bearer tok789")

	got, err := BearerToken{}.Extract(r)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "tok789" {
		t.Errorf("token: got %q, want %q", got, "tok789")
	}

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		r := httptest.NewRequest("POST", "/api/call", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if _, err := (BearerToken{}).Extract(r); err != ErrNoToken {
			t.Errorf("header %q: got %v, want ErrNoToken", header, err)
		}
	}
}

package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// ErrNoToken is returned by an Extractor when the request carries no
// credential at all in the location that strategy reads.
var ErrNoToken = errors.New("no auth token in request")

// Extractor pulls a token string out of an HTTP request. Mattermost sends
// credentials in three different places depending on the call, so each
// endpoint picks the strategy matching its wire shape.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

// QueryToken reads the token from the auth_token query parameter. Used by
// the manifest endpoint, which Mattermost fetches with a plain GET.
type QueryToken struct{}

func (QueryToken) Extract(r *http.Request) (string, error) {
	t := r.URL.Query().Get("auth_token")
	if t == "" {
		return "", ErrNoToken
	}
	return t, nil
}

// StateToken reads the token from the state.auth_token field of a JSON
// body. Mattermost echoes the manifest's embedded state back on install
// and bindings callbacks. The body is re-buffered so downstream handlers
// can decode it again.
type StateToken struct{}

func (StateToken) Extract(r *http.Request) (string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", ErrNoToken
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	var payload struct {
		State struct {
			AuthToken string `json:"auth_token"`
		} `json:"state"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.State.AuthToken == "" {
		return "", ErrNoToken
	}
	return payload.State.AuthToken, nil
}

// BearerToken reads the token from an Authorization: Bearer header. Used
// for app-platform calls that authenticate like a normal API client.
type BearerToken struct{}

func (BearerToken) Extract(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", ErrNoToken
	}
	t := strings.TrimPrefix(h, "Bearer ")
	if t == "" {
		return "", ErrNoToken
	}
	return t, nil
}

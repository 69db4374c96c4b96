// Package mattermost is a thin authenticated client for the Mattermost
// REST API (v4), covering only the calls the bridge needs: the public
// channel listing consumed by the sync job and a couple of single-shot
// lookups.
package mattermost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	apiPrefix = "/api/v4"

	// channelsPerPage is the page size requested during pagination.
	channelsPerPage = 60

	// publicChannelType is Mattermost's type code for public channels
	// ("P" marks private ones).
	publicChannelType = "O"

	defaultTimeout = 10 * time.Second

	// maxErrorBody bounds how much of an error response body is read.
	maxErrorBody = 64 * 1024
)

var (
	// ErrNoBotToken means no bot token was configured or supplied; the
	// client cannot authenticate anything without one.
	ErrNoBotToken = errors.New("mattermost bot token is not configured")

	// ErrTimeout marks a request that exceeded the client timeout.
	ErrTimeout = errors.New("mattermost api call timed out")

	// ErrTransport marks a network-level failure before any HTTP status
	// was received.
	ErrTransport = errors.New("mattermost api transport error")

	// ErrUnexpected wraps failures that fit no other category.
	ErrUnexpected = errors.New("unexpected error from mattermost server")
)

// APIError is a non-2xx response from the Mattermost server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mattermost api error: status %d: %s", e.Status, e.Message)
}

// Config holds the client's connection settings.
type Config struct {
	// Host is the Mattermost server base URL, e.g. https://chat.example.com.
	Host string
	// BotToken authenticates every request as the bridge's bot identity.
	BotToken string
	// Timeout bounds each HTTP call. Zero means the 10s default.
	Timeout time.Duration
}

// User is the bot identity as reported by /users/me.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
}

// ChannelInfo is a single channel lookup result.
type ChannelInfo struct {
	ChannelID   string `json:"id"`
	TeamID      string `json:"team_id"`
	DisplayName string `json:"display_name"`
	ChannelName string `json:"name"`
}

// PublicChannel is one entry of the public channel listing.
type PublicChannel struct {
	ChannelID   string
	ChannelName string
}

// remoteChannel is the wire shape of a channel in the paginated listing.
type remoteChannel struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}

// Client talks to one Mattermost server on behalf of one bot identity.
// Single-shot calls run behind a circuit breaker so a down server stops
// burning timeouts; the paginated listing already degrades to partial
// results and stays outside the breaker.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// New creates a Client. It fails fast when no bot token is configured.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, ErrNoBotToken
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "mattermost-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL: cfg.Host + apiPrefix,
		token:   cfg.BotToken,
		http:    &http.Client{Timeout: timeout},
		breaker: cb,
		logger:  logger,
	}, nil
}

// GetMe returns the bot user behind the configured token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.getJSON(ctx, "/users/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetChannelByTeamAndName resolves one channel by team name and channel name.
func (c *Client) GetChannelByTeamAndName(ctx context.Context, team, channel string) (*ChannelInfo, error) {
	path := "/teams/name/" + url.PathEscape(team) + "/channels/name/" + url.PathEscape(channel)
	var info ChannelInfo
	if err := c.getJSON(ctx, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetPublicChannels pages through the channels endpoint and returns every
// public channel. Pagination stops when a page comes back short or empty.
// A failed page fetch logs a warning and returns whatever accumulated so
// far; partial truncated results are deliberate, the sync job converges on
// the next run.
func (c *Client) GetPublicChannels(ctx context.Context) []PublicChannel {
	var channels []PublicChannel

	for page := 0; ; page++ {
		params := url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(channelsPerPage)},
		}

		var batch []remoteChannel
		if err := c.getJSONDirect(ctx, "/channels", params, &batch); err != nil {
			c.logger.Warn("aborting channel pagination",
				"page", page, "error", err)
			break
		}

		for _, ch := range batch {
			if ch.Type == publicChannelType {
				channels = append(channels, PublicChannel{
					ChannelID:   ch.ID,
					ChannelName: ch.DisplayName,
				})
			}
		}

		if len(batch) < channelsPerPage {
			break
		}
	}
	return channels
}

// getJSON performs a single-shot GET through the circuit breaker.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.get(ctx, path, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s", ErrTransport, err)
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %s", ErrUnexpected, err)
	}
	return nil
}

// getJSONDirect bypasses the breaker; used by the paginated fetch, which
// handles failures itself.
func (c *Client) getJSONDirect(ctx context.Context, path string, params url.Values, out interface{}) error {
	body, err := c.get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %s", ErrUnexpected, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnexpected, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %s", ErrUnexpected, err)
	}
	return body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s", ErrTransport, err)
	default:
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("%w: %s", ErrTransport, err)
		}
		return fmt.Errorf("%w: %s", ErrUnexpected, err)
	}
}

// newAPIError builds an APIError from a non-2xx response, pulling the
// server's message field when the body parses.
func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var serverErr struct {
		Message string `json:"message"`
	}
	message := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(body, &serverErr); err == nil && serverErr.Message != "" {
		message = serverErr.Message
	}
	return &APIError{Status: resp.StatusCode, Message: message}
}

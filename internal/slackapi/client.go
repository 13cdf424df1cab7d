// Package slackapi is the REST side of the Slack connection: identity,
// realtime endpoints, directory listings and read-state calls.
package slackapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/oauth2"

	"github.com/john/slackignore/internal/roster"
)

const (
	defaultTimeout = 30 * time.Second
	pageLimit      = 200
	maxRateRetries = 3
)

// Config holds the credentials and transport options for a Client
type Config struct {
	// Token is the user token (xoxc-...) sent as a bearer credential
	Token string
	// Cookie is the value of the browser session's "d" cookie
	Cookie string
	// APIURL overrides https://slack.com/api/
	APIURL string
	// ProxyURL routes every request through an HTTP proxy. Certificates are
	// still verified.
	ProxyURL string
	Timeout  time.Duration
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// TransportError wraps any failed REST call
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("slackapi: %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client talks to the Slack Web API
type Client struct {
	api        *slack.Client
	httpClient *http.Client
	apiURL     string
	logger     *slog.Logger
}

// New creates a Client that authenticates every request with the bearer
// token and session cookie.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("slackapi: token is required")
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("slackapi: invalid proxy URL: %w", err)
		}
		base.Proxy = http.ProxyURL(proxy)
	}

	var rt http.RoundTripper = base
	if cfg.Cookie != "" {
		rt = &cookieTransport{cookie: cfg.Cookie, inner: rt}
	}
	rt = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
		Base:   rt,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Transport: rt, Timeout: timeout}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = slack.APIURL
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:        slack.New(cfg.Token, slack.OptionHTTPClient(httpClient), slack.OptionAPIURL(apiURL)),
		httpClient: httpClient,
		apiURL:     apiURL,
		logger:     logger,
	}, nil
}

// cookieTransport adds the "d" session cookie that user tokens require
type cookieTransport struct {
	cookie string
	inner  http.RoundTripper
}

func (t *cookieTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Add("Cookie", "d="+t.cookie)
	return t.inner.RoundTrip(r)
}

// Identity returns the user id the token belongs to
func (c *Client) Identity(ctx context.Context) (string, error) {
	var resp *slack.AuthTestResponse
	err := c.call(ctx, "auth.test", func() error {
		var err error
		resp, err = c.api.AuthTestContext(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// ConnectURL requests a single-use realtime websocket URL
func (c *Client) ConnectURL(ctx context.Context) (string, error) {
	var wsURL string
	err := c.call(ctx, "rtm.connect", func() error {
		var err error
		_, wsURL, err = c.api.ConnectRTMContext(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return wsURL, nil
}

// ListConversations returns one page of public and private channels,
// archived ones excluded.
func (c *Client) ListConversations(ctx context.Context, cursor string) ([]roster.Conversation, string, error) {
	var (
		channels []slack.Channel
		next     string
	)
	err := c.call(ctx, "conversations.list", func() error {
		var err error
		channels, next, err = c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Types:           []string{"public_channel", "private_channel"},
			Limit:           pageLimit,
		})
		return err
	})
	if err != nil {
		return nil, "", err
	}

	convs := make([]roster.Conversation, 0, len(channels))
	for _, ch := range channels {
		convs = append(convs, roster.Conversation{ID: ch.ID, Name: ch.Name})
	}
	return convs, next, nil
}

// LastRead returns the conversation's last-read marker
func (c *Client) LastRead(ctx context.Context, channelID string) (string, error) {
	var ch *slack.Channel
	err := c.call(ctx, "conversations.info", func() error {
		var err error
		ch, err = c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
		return err
	})
	if err != nil {
		return "", err
	}
	return ch.LastRead, nil
}

// History returns the timestamps of the newest limit messages, newest first
func (c *Client) History(ctx context.Context, channelID string, limit int) ([]string, error) {
	var resp *slack.GetConversationHistoryResponse
	err := c.call(ctx, "conversations.history", func() error {
		var err error
		resp, err = c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Limit:     limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	ts := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ts = append(ts, m.Timestamp)
	}
	return ts, nil
}

// MarkRead moves the conversation's read marker to ts
func (c *Client) MarkRead(ctx context.Context, channelID, ts string) error {
	return c.call(ctx, "conversations.mark", func() error {
		return c.api.MarkConversationContext(ctx, channelID, ts)
	})
}

// Post sends a plain text message. Failures are logged, not returned.
func (c *Client) Post(ctx context.Context, channelID, text string) bool {
	err := c.call(ctx, "chat.postMessage", func() error {
		_, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
		return err
	})
	if err != nil {
		c.logger.Warn("Could not post message", "channel", channelID, "error", err)
		return false
	}
	return true
}

// call runs fn, waiting out rate limits a few times, and wraps the final
// error in a TransportError.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rateLimited *slack.RateLimitedError
		if !errors.As(err, &rateLimited) || attempt >= maxRateRetries {
			return &TransportError{Method: method, Err: err}
		}

		c.logger.Debug("Rate limited", "method", method, "retry_after", rateLimited.RetryAfter)
		select {
		case <-time.After(rateLimited.RetryAfter):
		case <-ctx.Done():
			return &TransportError{Method: method, Err: ctx.Err()}
		}
	}
}

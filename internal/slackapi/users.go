package slackapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/john/slackignore/internal/roster"
)

// usersListResponse mirrors users.list. slack-go only exposes this listing
// through an iterator that hides the cursor, so it is fetched directly.
type usersListResponse struct {
	OK               bool         `json:"ok"`
	Error            string       `json:"error"`
	Members          []slack.User `json:"members"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// ListMembers returns one page of workspace members
func (c *Client) ListMembers(ctx context.Context, cursor string) ([]roster.Member, string, error) {
	params := url.Values{"limit": {strconv.Itoa(pageLimit)}}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp usersListResponse
	err := c.call(ctx, "users.list", func() error {
		if err := c.get(ctx, "users.list", params, &resp); err != nil {
			return err
		}
		if !resp.OK {
			return errors.New(resp.Error)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	members := make([]roster.Member, 0, len(resp.Members))
	for _, u := range resp.Members {
		realName := u.RealName
		if realName == "" {
			realName = u.Profile.RealName
		}
		members = append(members, roster.Member{
			ID:       u.ID,
			Nickname: u.Name,
			RealName: realName,
			IsBot:    u.IsBot,
		})
	}
	return members, resp.ResponseMetadata.NextCursor, nil
}

// get performs a GET against the Web API and decodes the JSON body
func (c *Client) get(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+method+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &slack.RateLimitedError{RetryAfter: time.Duration(retryAfter) * time.Second}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("JSON decode failed: %w", err)
	}
	return nil
}

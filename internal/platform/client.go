// Package platform is the HTTP client for the messaging platform's bot APIs:
// profile lookup, group/room metadata, and authenticated content download.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAPIBase     = "https://api.line.me"
	defaultContentBase = "https://api-data.line.me"

	maxAttempts = 3
)

// ErrNotFound marks 404 responses from the platform.
var ErrNotFound = errors.New("platform resource not found")

// permanentError wraps 4xx responses, which are never retried.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("platform API returned %d: %s", e.status, e.body)
}

// Client talks to the platform's bot APIs with a channel access token.
// Transient failures (5xx, network) are retried up to three times with linear
// backoff; 4xx responses surface immediately.
type Client struct {
	apiBase     string
	contentBase string
	accessToken string
	httpClient  *http.Client
	backoff     time.Duration
}

// Option adjusts Client construction.
type Option func(*Client)

// WithBaseURLs overrides the API and content hosts, used by tests.
func WithBaseURLs(apiBase, contentBase string) Option {
	return func(c *Client) {
		c.apiBase = apiBase
		c.contentBase = contentBase
	}
}

// WithBackoff overrides the base retry backoff interval.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

// New creates a platform client with the given channel access token.
func New(accessToken string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		apiBase:     defaultAPIBase,
		contentBase: defaultContentBase,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		backoff:     time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Profile is a user's public profile on the platform.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
	Language      string `json:"language,omitempty"`
}

// GroupSummary is a group's metadata.
type GroupSummary struct {
	GroupID    string `json:"groupId"`
	GroupName  string `json:"groupName"`
	PictureURL string `json:"pictureUrl,omitempty"`
}

// Content is a downloaded binary payload.
type Content struct {
	Bytes       []byte
	ContentType string
}

// GetProfile fetches the profile of userID.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var profile Profile
	url := fmt.Sprintf("%s/v2/bot/profile/%s", c.apiBase, userID)
	if err := c.getJSON(ctx, url, &profile); err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	return &profile, nil
}

// GetGroupSummary fetches group metadata.
func (c *Client) GetGroupSummary(ctx context.Context, groupID string) (*GroupSummary, error) {
	var summary GroupSummary
	url := fmt.Sprintf("%s/v2/bot/group/%s/summary", c.apiBase, groupID)
	if err := c.getJSON(ctx, url, &summary); err != nil {
		return nil, fmt.Errorf("get group summary %s: %w", groupID, err)
	}
	return &summary, nil
}

type memberIDsPage struct {
	MemberIDs []string `json:"memberIds"`
	Next      string   `json:"next,omitempty"`
}

// GetGroupMemberIDs fetches the full member roster of a group, following
// pagination.
func (c *Client) GetGroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	return c.memberIDs(ctx, fmt.Sprintf("%s/v2/bot/group/%s/members/ids", c.apiBase, groupID))
}

// GetRoomMemberIDs fetches the full member roster of a room, following
// pagination.
func (c *Client) GetRoomMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	return c.memberIDs(ctx, fmt.Sprintf("%s/v2/bot/room/%s/members/ids", c.apiBase, roomID))
}

func (c *Client) memberIDs(ctx context.Context, baseURL string) ([]string, error) {
	var ids []string
	next := ""
	for {
		url := baseURL
		if next != "" {
			url = baseURL + "?start=" + next
		}
		var page memberIDsPage
		if err := c.getJSON(ctx, url, &page); err != nil {
			return nil, fmt.Errorf("get member ids: %w", err)
		}
		ids = append(ids, page.MemberIDs...)
		if page.Next == "" {
			return ids, nil
		}
		next = page.Next
	}
}

// GetContent downloads the original binary content of a message.
func (c *Client) GetContent(ctx context.Context, messageID string) (*Content, error) {
	url := fmt.Sprintf("%s/v2/bot/message/%s/content", c.contentBase, messageID)
	return c.getContent(ctx, url, messageID)
}

// GetContentPreview downloads the preview rendition of a message's content.
func (c *Client) GetContentPreview(ctx context.Context, messageID string) (*Content, error) {
	url := fmt.Sprintf("%s/v2/bot/message/%s/content/preview", c.contentBase, messageID)
	return c.getContent(ctx, url, messageID)
}

func (c *Client) getContent(ctx context.Context, url, messageID string) (*Content, error) {
	var content *Content
	err := c.doWithRetry(ctx, func() error {
		resp, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return err
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read content body: %w", err)
		}
		content = &Content{
			Bytes:       data,
			ContentType: resp.Header.Get("Content-Type"),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", messageID, err)
	}
	return content, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	return c.doWithRetry(ctx, func() error {
		resp, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	return c.httpClient.Do(req)
}

// doWithRetry runs fn up to maxAttempts times with linear backoff. Client
// errors (4xx) are permanent and returned on first sight.
func (c *Client) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) || errors.Is(lastErr, ErrNotFound) {
			return lastErr
		}

		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * c.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &permanentError{status: resp.StatusCode, body: string(body)}
	}
	return fmt.Errorf("platform API returned %d: %s", resp.StatusCode, string(body))
}

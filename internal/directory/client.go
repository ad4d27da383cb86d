// Package directory is the client for the user/group directory collaborator.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chatrelay/chatrelay/internal/models"
	"github.com/chatrelay/chatrelay/internal/serviceauth"
)

// UserRecord is the directory's view of a sender.
type UserRecord struct {
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName,omitempty"`
	Status      string     `json:"status"`
	FollowedAt  *time.Time `json:"followedAt,omitempty"`
	LastActive  *time.Time `json:"lastActive,omitempty"`
}

// Profile carries the fields pushed on a best-effort profile refresh.
type Profile struct {
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
	Language      string `json:"language,omitempty"`
}

// Directory is the collaborator port consumed by the event router.
type Directory interface {
	EnsureSenderExists(ctx context.Context, senderID string, source *models.EventSource) (*UserRecord, error)
	TouchLastActive(ctx context.Context, userID string) error
	MarkFollowed(ctx context.Context, userID string, at time.Time) error
	MarkUnfollowed(ctx context.Context, userID string, at time.Time) error
	UpdateProfile(ctx context.Context, userID string, p *Profile) error
	InvalidateProfile(ctx context.Context, userID string) error
	EnsureGroupSynced(ctx context.Context, groupID, sourceType string) error
	SyncRoster(ctx context.Context, groupID, groupName string, memberIDs []string) error
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}

// Client is the HTTP implementation of Directory, authenticating with
// short-lived service tokens.
type Client struct {
	baseURL    string
	httpClient *http.Client
	minter     *serviceauth.Minter
}

// NewClient creates a directory client.
func NewClient(baseURL string, timeout time.Duration, minter *serviceauth.Minter) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		minter:     minter,
	}
}

func (c *Client) EnsureSenderExists(ctx context.Context, senderID string, source *models.EventSource) (*UserRecord, error) {
	body := map[string]string{"userId": senderID}
	if source != nil {
		body["sourceType"] = source.Type
		if ctxID := source.ContextID(); ctxID != "" {
			body["contextId"] = ctxID
		}
	}

	var user UserRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/users/ensure", body, &user); err != nil {
		return nil, fmt.Errorf("ensure sender %s: %w", senderID, err)
	}
	return &user, nil
}

func (c *Client) TouchLastActive(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/users/"+userID+"/touch", nil, nil)
}

func (c *Client) MarkFollowed(ctx context.Context, userID string, at time.Time) error {
	body := map[string]string{"followedAt": at.UTC().Format(time.RFC3339)}
	return c.do(ctx, http.MethodPost, "/api/v1/users/"+userID+"/follow", body, nil)
}

func (c *Client) MarkUnfollowed(ctx context.Context, userID string, at time.Time) error {
	body := map[string]string{"unfollowedAt": at.UTC().Format(time.RFC3339)}
	return c.do(ctx, http.MethodPost, "/api/v1/users/"+userID+"/unfollow", body, nil)
}

func (c *Client) UpdateProfile(ctx context.Context, userID string, p *Profile) error {
	return c.do(ctx, http.MethodPut, "/api/v1/users/"+userID+"/profile", p, nil)
}

func (c *Client) InvalidateProfile(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/users/"+userID+"/profile", nil, nil)
}

func (c *Client) EnsureGroupSynced(ctx context.Context, groupID, sourceType string) error {
	body := map[string]string{"groupId": groupID, "sourceType": sourceType}
	return c.do(ctx, http.MethodPost, "/api/v1/groups/ensure", body, nil)
}

func (c *Client) SyncRoster(ctx context.Context, groupID, groupName string, memberIDs []string) error {
	body := map[string]interface{}{
		"groupName": groupName,
		"memberIds": memberIDs,
	}
	return c.do(ctx, http.MethodPut, "/api/v1/groups/"+groupID+"/members", body, nil)
}

func (c *Client) AddMember(ctx context.Context, groupID, userID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/groups/"+groupID+"/members/"+userID, nil, nil)
}

func (c *Client) RemoveMember(ctx context.Context, groupID, userID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/groups/"+groupID+"/members/"+userID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.minter != nil {
		token, err := c.minter.Mint()
		if err != nil {
			return fmt.Errorf("mint service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory returned %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Package autoresponder calls the keyword auto-response collaborator for
// inbound text messages from individual chats.
package autoresponder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chatrelay/chatrelay/internal/serviceauth"
)

// Responder decides whether an inbound text triggers an automatic reply
// and dispatches it if so.
type Responder interface {
	Handle(ctx context.Context, req *Request) (*Result, error)
}

// Request describes a candidate text message.
type Request struct {
	UserID         string `json:"userId"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	ReplyToken     string `json:"replyToken,omitempty"`
	EventTimestamp int64  `json:"eventTimestamp"`
}

// Result reports whether a response rule fired.
type Result struct {
	Triggered bool   `json:"triggered"`
	RuleID    string `json:"ruleId,omitempty"`
}

// Client is the HTTP implementation of Responder.
type Client struct {
	baseURL    string
	httpClient *http.Client
	minter     *serviceauth.Minter
}

func NewClient(baseURL string, timeout time.Duration, minter *serviceauth.Minter) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		minter:     minter,
	}
}

func (c *Client) Handle(ctx context.Context, req *Request) (*Result, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/respond", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.minter != nil {
		token, err := c.minter.Mint()
		if err != nil {
			return nil, fmt.Errorf("mint service token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("responder returned %d: %s", resp.StatusCode, msg)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

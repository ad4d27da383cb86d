package models

import (
	"encoding/json"
	"time"
)

// MessageRecord is the persisted, normalized form of a message event. One row
// per event, placed in the monthly partition matching SentAt.
type MessageRecord struct {
	EventID           string          `json:"event_id"`
	SenderID          string          `json:"sender_id"`
	SourceType        string          `json:"source_type"`
	GroupID           string          `json:"group_id,omitempty"`
	SentAt            time.Time       `json:"sent_at"`
	ReplyToken        string          `json:"reply_token,omitempty"`
	QuoteToken        string          `json:"quote_token,omitempty"`
	QuotedMessageID   string          `json:"quoted_message_id,omitempty"`
	PlatformMessageID string          `json:"platform_message_id,omitempty"`
	MessageType       string          `json:"message_type"`
	Content           string          `json:"content"`
	RawPayload        json.RawMessage `json:"raw_payload"`
	CreatedAt         time.Time       `json:"created_at"`
}

// MediaContent is the canonical stored descriptor for image/audio/file
// messages.
type MediaContent struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	URL        string `json:"url"`
	PreviewURL string `json:"previewUrl,omitempty"`
	FileName   string `json:"name,omitempty"`
	FileSize   int64  `json:"size,omitempty"`
	DurationMS int64  `json:"duration,omitempty"`
}

// VideoContent is the canonical stored descriptor for video messages.
type VideoContent struct {
	VideoURL   string `json:"videoUrl"`
	PreviewURL string `json:"previewUrl,omitempty"`
	VideoName  string `json:"videoName"`
}

// LocationContent is the canonical stored descriptor for location messages.
type LocationContent struct {
	Title     string  `json:"title,omitempty"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// StickerContent is the canonical stored descriptor for sticker messages.
type StickerContent struct {
	PackageID string `json:"packageId"`
	StickerID string `json:"stickerId"`
}

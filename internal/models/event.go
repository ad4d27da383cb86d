package models

import "encoding/json"

// Event types delivered by the platform webhook.
const (
	EventTypeMessage      = "message"
	EventTypeFollow       = "follow"
	EventTypeUnfollow     = "unfollow"
	EventTypeJoin         = "join"
	EventTypeLeave        = "leave"
	EventTypeMemberJoined = "memberJoined"
	EventTypeMemberLeft   = "memberLeft"
	EventTypePostback     = "postback"
	EventTypeBeacon       = "beacon"
)

// Source types for an event origin.
const (
	SourceTypeUser  = "user"
	SourceTypeGroup = "group"
	SourceTypeRoom  = "room"
)

// Message types carried in a message event.
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeFile     = "file"
	MessageTypeLocation = "location"
	MessageTypeSticker  = "sticker"
	MessageTypeTemplate = "template"
	MessageTypeFlex     = "flex"
	MessageTypeImagemap = "imagemap"
)

// ContentProviderLine marks platform-hosted binary content that must be
// fetched through the authenticated content API.
const ContentProviderLine = "line"

// EventBatch is one webhook POST: the bot destination plus zero or more events.
type EventBatch struct {
	Destination string            `json:"destination"`
	Events      []InboundEvent    `json:"events"`
	Raw         []json.RawMessage `json:"-"`
}

// InboundEvent is a single element of a webhook batch, as delivered on the
// wire. Optional sub-objects are nil when absent.
type InboundEvent struct {
	Type            string           `json:"type"`
	Mode            string           `json:"mode,omitempty"`
	Timestamp       int64            `json:"timestamp"`
	Source          *EventSource     `json:"source,omitempty"`
	WebhookEventID  string           `json:"webhookEventId,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
	ReplyToken      string           `json:"replyToken,omitempty"`
	Message         *EventMessage    `json:"message,omitempty"`
	Postback        *Postback        `json:"postback,omitempty"`
	Beacon          *Beacon          `json:"beacon,omitempty"`
	Joined          *MemberList      `json:"joined,omitempty"`
	Left            *MemberList      `json:"left,omitempty"`
	Follow          *FollowDetail    `json:"follow,omitempty"`

	// Raw preserves the original wire bytes for forensic storage.
	Raw json.RawMessage `json:"-"`
}

// EventSource identifies where an event came from.
type EventSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// ContextID returns the group or room ID for group-scoped sources, empty for
// individual chats.
func (s *EventSource) ContextID() string {
	if s == nil {
		return ""
	}
	if s.GroupID != "" {
		return s.GroupID
	}
	return s.RoomID
}

// IsIndividual reports whether the source is a one-to-one chat.
func (s *EventSource) IsIndividual() bool {
	return s != nil && s.Type == SourceTypeUser
}

// DeliveryContext carries the platform's redelivery flag.
type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// EventMessage is the message sub-object of a message event.
type EventMessage struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Text            string           `json:"text,omitempty"`
	Emojis          []Emoji          `json:"emojis,omitempty"`
	QuoteToken      string           `json:"quoteToken,omitempty"`
	QuotedMessageID string           `json:"quotedMessageId,omitempty"`
	ContentProvider *ContentProvider `json:"contentProvider,omitempty"`
	FileName        string           `json:"fileName,omitempty"`
	FileSize        int64            `json:"fileSize,omitempty"`
	Duration        int64            `json:"duration,omitempty"`
	Title           string           `json:"title,omitempty"`
	Address         string           `json:"address,omitempty"`
	Latitude        float64          `json:"latitude,omitempty"`
	Longitude       float64          `json:"longitude,omitempty"`
	PackageID       string           `json:"packageId,omitempty"`
	StickerID       string           `json:"stickerId,omitempty"`

	// Raw preserves the full sub-object for opaque message types.
	Raw json.RawMessage `json:"-"`
}

// Emoji is an inline pictogram annotation: a span of the text plus the
// catalog identifiers needed to render it.
type Emoji struct {
	Index     int    `json:"index"`
	Length    int    `json:"length"`
	ProductID string `json:"productId"`
	EmojiID   string `json:"emojiId"`
}

// ContentProvider describes where binary message content actually lives.
type ContentProvider struct {
	Type               string `json:"type"`
	OriginalContentURL string `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string `json:"previewImageUrl,omitempty"`
}

// Postback carries the data of a postback action.
type Postback struct {
	Data   string            `json:"data"`
	Params map[string]string `json:"params,omitempty"`
}

// Beacon carries beacon enter/leave details.
type Beacon struct {
	HWID string `json:"hwid"`
	Type string `json:"type"`
	DM   string `json:"dm,omitempty"`
}

// MemberList is the member roster delta of memberJoined/memberLeft events.
type MemberList struct {
	Members []EventSource `json:"members"`
}

// FollowDetail carries follow event extras.
type FollowDetail struct {
	IsUnblocked bool `json:"isUnblocked"`
}

// SupportedEventTypes is the closed set this core dispatches on. Types outside
// it are acknowledged without processing.
var SupportedEventTypes = map[string]bool{
	EventTypeMessage:      true,
	EventTypeFollow:       true,
	EventTypeUnfollow:     true,
	EventTypeJoin:         true,
	EventTypeLeave:        true,
	EventTypeMemberJoined: true,
	EventTypeMemberLeft:   true,
	EventTypePostback:     true,
	EventTypeBeacon:       true,
}

// SupportedMessageTypes is the closed set of message sub-types accepted for
// storage.
var SupportedMessageTypes = map[string]bool{
	MessageTypeText:     true,
	MessageTypeImage:    true,
	MessageTypeVideo:    true,
	MessageTypeAudio:    true,
	MessageTypeFile:     true,
	MessageTypeLocation: true,
	MessageTypeSticker:  true,
	MessageTypeTemplate: true,
	MessageTypeFlex:     true,
	MessageTypeImagemap: true,
}

// EventID derives the idempotency key for an event: the reply token when
// present, else the platform-assigned webhook event ID. Empty means the event
// cannot be deduplicated.
func (e *InboundEvent) EventID() string {
	if e.ReplyToken != "" {
		return e.ReplyToken
	}
	return e.WebhookEventID
}

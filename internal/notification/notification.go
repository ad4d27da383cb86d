// Package notification fans out new-message notices to configured channels.
// Delivery is fire-and-forget: a channel failure is logged and counted but
// never affects webhook processing.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chatrelay/chatrelay/internal/logging"
	"github.com/chatrelay/chatrelay/internal/metrics"
)

// Notice is the payload delivered to every channel for a new message. The
// first four fields are the renderable push payload; the rest correlate the
// notice with the stored record.
type Notice struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	IconURL     string `json:"iconUrl,omitempty"`
	DeepLinkURL string `json:"deepLinkUrl,omitempty"`

	EventID       string `json:"eventId"`
	SenderID      string `json:"senderId"`
	SourceType    string `json:"sourceType"`
	GroupID       string `json:"groupId,omitempty"`
	MessageType   string `json:"messageType"`
	Partition     string `json:"partition"`
	SentAt        int64  `json:"sentAt"`
	ContentDigest string `json:"contentDigest,omitempty"`
}

// Channel delivers a notice to one destination.
type Channel interface {
	Send(ctx context.Context, n *Notice) error
	Type() string
}

// WebhookChannel posts notices to an HTTP endpoint.
type WebhookChannel struct {
	url        string
	httpClient *http.Client
}

func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Type() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, n *Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Publisher is the subset of the NATS connection the channel needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSChannel publishes notices to a NATS subject.
type NATSChannel struct {
	pub     Publisher
	subject string
}

// SubjectMessagesStored is the default subject for stored-message notices.
const SubjectMessagesStored = "chatrelay.messages.stored"

func NewNATSChannel(conn *nats.Conn, subject string) *NATSChannel {
	if subject == "" {
		subject = SubjectMessagesStored
	}
	return &NATSChannel{pub: conn, subject: subject}
}

func (c *NATSChannel) Type() string { return "nats" }

func (c *NATSChannel) Send(ctx context.Context, n *Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	return c.pub.Publish(c.subject, data)
}

// Dispatcher fans one notice out to all channels concurrently.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	logger   *logging.Logger
}

func NewDispatcher(channels []Channel, timeout time.Duration, logger *logging.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{channels: channels, timeout: timeout, logger: logger}
}

// Notify delivers the notice to every channel. It blocks until all channels
// have finished or timed out; callers wanting fire-and-forget run it in a
// goroutine.
func (d *Dispatcher) Notify(n *Notice) {
	if len(d.channels) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, n); err != nil {
				metrics.CollaboratorErrors.WithLabelValues("notification_" + ch.Type()).Inc()
				d.logger.Warn("notification delivery failed",
					slog.String("channel", ch.Type()),
					logging.EventID(n.EventID),
					logging.Err(err))
				return
			}
			d.logger.Debug("notification delivered",
				slog.String("channel", ch.Type()),
				logging.EventID(n.EventID))
		}(ch)
	}
	wg.Wait()
}

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/logging"
)

func sampleNotice() *Notice {
	return &Notice{
		Title:       "New group message from U1",
		Body:        "hello",
		EventID:     "evt-1",
		SenderID:    "U1",
		SourceType:  "group",
		GroupID:     "G1",
		MessageType: "text",
		Partition:   "202609",
		SentAt:      1756700000000,
	}
}

func TestWebhookChannelSend(t *testing.T) {
	var got Notice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	require.NoError(t, ch.Send(context.Background(), sampleNotice()))
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, "202609", got.Partition)
}

func TestWebhookChannelSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	err := ch.Send(context.Background(), sampleNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestNATSChannelSend(t *testing.T) {
	pub := &fakePublisher{}
	ch := &NATSChannel{pub: pub, subject: SubjectMessagesStored}

	require.NoError(t, ch.Send(context.Background(), sampleNotice()))
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "chatrelay.messages.stored", pub.subjects[0])

	var got Notice
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "U1", got.SenderID)
}

func TestNATSChannelCancelledContext(t *testing.T) {
	pub := &fakePublisher{}
	ch := &NATSChannel{pub: pub, subject: SubjectMessagesStored}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, ch.Send(ctx, sampleNotice()))
	assert.Empty(t, pub.subjects)
}

type recordingChannel struct {
	name string
	mu   sync.Mutex
	sent []*Notice
	err  error
}

func (c *recordingChannel) Type() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, n *Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

func TestDispatcherFansOutToAllChannels(t *testing.T) {
	a := &recordingChannel{name: "a"}
	b := &recordingChannel{name: "b"}
	d := NewDispatcher([]Channel{a, b}, time.Second, logging.Default())

	d.Notify(sampleNotice())

	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
}

func TestDispatcherFailureDoesNotBlockOthers(t *testing.T) {
	failing := &recordingChannel{name: "bad", err: errors.New("down")}
	ok := &recordingChannel{name: "ok"}
	d := NewDispatcher([]Channel{failing, ok}, time.Second, logging.Default())

	d.Notify(sampleNotice())

	assert.Len(t, ok.sent, 1)
}

func TestDispatcherNoChannels(t *testing.T) {
	d := NewDispatcher(nil, time.Second, logging.Default())
	d.Notify(sampleNotice())
}

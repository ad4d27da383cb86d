// Package service routes validated webhook events to per-type handlers.
// Each event moves Received -> Validated -> Dispatched -> {Succeeded|Failed}
// independently: a failure or panic in one event never stops the rest of the
// batch.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/autoresponder"
	"github.com/chatrelay/chatrelay/internal/directory"
	"github.com/chatrelay/chatrelay/internal/dispatch"
	"github.com/chatrelay/chatrelay/internal/logging"
	"github.com/chatrelay/chatrelay/internal/metrics"
	"github.com/chatrelay/chatrelay/internal/models"
	"github.com/chatrelay/chatrelay/internal/notification"
	"github.com/chatrelay/chatrelay/internal/partition"
	"github.com/chatrelay/chatrelay/internal/platform"
)

// MessageStorer persists message events idempotently. False means "not
// stored"; redeliveries of an already stored event report true.
type MessageStorer interface {
	Store(ctx context.Context, ev *models.InboundEvent) bool
}

// ProfileSource fetches user profiles from the platform, used for the
// best-effort refresh on follow events.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*platform.Profile, error)
}

// RosterSource fetches group/room metadata and membership from the platform.
type RosterSource interface {
	GetGroupSummary(ctx context.Context, groupID string) (*platform.GroupSummary, error)
	GetGroupMemberIDs(ctx context.Context, groupID string) ([]string, error)
	GetRoomMemberIDs(ctx context.Context, roomID string) ([]string, error)
}

// Notifier fans out stored-message notices. Fire-and-forget.
type Notifier interface {
	Notify(n *notification.Notice)
}

// WebhookService is the event router. All collaborators except the message
// store are best-effort: their failures are logged and counted but never
// change an event's outcome.
type WebhookService struct {
	store       MessageStorer
	directory   directory.Directory
	responder   autoresponder.Responder
	guard       dispatch.Guard
	notifier    Notifier
	profiles    ProfileSource
	rosters     RosterSource
	consoleBase string
	logger      *logging.Logger
}

// Option configures a WebhookService.
type Option func(*WebhookService)

// WithConsoleBaseURL sets the admin console base URL used to build
// notification deep links. Empty leaves deep links unset.
func WithConsoleBaseURL(u string) Option {
	return func(s *WebhookService) { s.consoleBase = strings.TrimRight(u, "/") }
}

// New wires a WebhookService. directory, responder, notifier, profiles and
// rosters may be nil; the corresponding side effects are skipped. guard
// defaults to NoOpGuard.
func New(
	store MessageStorer,
	dir directory.Directory,
	responder autoresponder.Responder,
	guard dispatch.Guard,
	notifier Notifier,
	profiles ProfileSource,
	rosters RosterSource,
	logger *logging.Logger,
	opts ...Option,
) *WebhookService {
	if guard == nil {
		guard = dispatch.NoOpGuard{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &WebhookService{
		store:     store,
		directory: dir,
		responder: responder,
		guard:     guard,
		notifier:  notifier,
		profiles:  profiles,
		rosters:   rosters,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessBatch processes the events of one authenticated webhook request in
// array order and returns the aggregate result. It never returns an error:
// per-event failures land in the batch result.
func (s *WebhookService) ProcessBatch(ctx context.Context, batch *models.EventBatch) *models.BatchResult {
	result := &models.BatchResult{}

	if batch.Destination != "" {
		s.logger.DebugContext(ctx, "processing webhook batch",
			slog.String("destination", batch.Destination),
			slog.Int("events", len(batch.Events)))
	}

	for i := range batch.Events {
		result.Record(s.processEvent(ctx, i, &batch.Events[i]))
	}
	return result
}

// processEvent runs one event through the state machine inside a panic
// isolation boundary.
func (s *WebhookService) processEvent(ctx context.Context, index int, ev *models.InboundEvent) (res models.EventResult) {
	res = models.EventResult{Index: index, EventType: ev.Type}

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "event handler panicked",
				logging.EventType(ev.Type),
				slog.Int("event_index", index),
				slog.Any("panic", r))
			res.Succeeded = false
			res.Action = ""
			res.Error = models.ErrHandlerPanic
			metrics.EventsTotal.WithLabelValues(ev.Type, "panic").Inc()
		}
	}()

	if ev.DeliveryContext != nil && ev.DeliveryContext.IsRedelivery {
		metrics.RedeliveriesTotal.Inc()
		s.logger.InfoContext(ctx, "event flagged as redelivery",
			logging.EventType(ev.Type),
			logging.EventID(ev.EventID()))
	}

	// Received -> Validated
	if code, ok := s.validate(ev); !ok {
		res.Error = code
		metrics.EventsTotal.WithLabelValues(ev.Type, "invalid").Inc()
		return res
	}

	// Forward compatibility: unknown event types are acknowledged, never
	// failed.
	if !models.SupportedEventTypes[ev.Type] {
		s.logger.InfoContext(ctx, "unsupported event type acknowledged",
			logging.EventType(ev.Type))
		res.Succeeded = true
		res.Action = models.ActionLoggedOnly
		metrics.EventsTotal.WithLabelValues(ev.Type, "logged_only").Inc()
		return res
	}

	// Validated -> Dispatched
	switch ev.Type {
	case models.EventTypeMessage:
		res = s.handleMessage(ctx, index, ev)
	case models.EventTypeFollow:
		res = s.handleFollow(ctx, index, ev)
	case models.EventTypeUnfollow:
		res = s.handleUnfollow(ctx, index, ev)
	case models.EventTypeJoin:
		res = s.handleJoin(ctx, index, ev)
	case models.EventTypeLeave:
		s.logger.InfoContext(ctx, "left chat context",
			slog.String("context_id", ev.Source.ContextID()))
		res = models.EventResult{Index: index, EventType: ev.Type, Succeeded: true, Action: models.ActionLoggedOnly}
	case models.EventTypeMemberJoined:
		res = s.handleMemberChange(ctx, index, ev, ev.Joined, true)
	case models.EventTypeMemberLeft:
		res = s.handleMemberChange(ctx, index, ev, ev.Left, false)
	case models.EventTypePostback, models.EventTypeBeacon:
		res = models.EventResult{Index: index, EventType: ev.Type, Succeeded: true, Action: models.ActionLoggedOnly}
	}

	outcome := "failed"
	if res.Succeeded {
		outcome = "succeeded"
	}
	metrics.EventsTotal.WithLabelValues(ev.Type, outcome).Inc()
	return res
}

// validate applies the structural checks that precede dispatch. The returned
// code is set only when ok is false.
func (s *WebhookService) validate(ev *models.InboundEvent) (string, bool) {
	if ev.Type == "" || ev.Source == nil {
		return models.ErrInvalidEventStructure, false
	}
	switch ev.Type {
	case models.EventTypeMessage, models.EventTypeFollow, models.EventTypeUnfollow:
		if ev.Source.UserID == "" {
			return models.ErrMissingUserID, false
		}
	}
	return "", true
}

func (s *WebhookService) handleMessage(ctx context.Context, index int, ev *models.InboundEvent) models.EventResult {
	res := models.EventResult{Index: index, EventType: ev.Type}
	senderID := ev.Source.UserID

	s.bestEffort(ctx, "directory", func() error {
		if s.directory == nil {
			return nil
		}
		_, err := s.directory.EnsureSenderExists(ctx, senderID, ev.Source)
		return err
	})

	// The notice goes out before storage: it is an independent side effect,
	// and the console should hear about the message even when the insert
	// later fails.
	if s.notifier != nil && ev.Message != nil {
		s.notifier.Notify(s.noticeFor(ctx, ev))
	}

	// Storage is the one hard dependency of a message event.
	if !s.store.Store(ctx, ev) {
		res.Error = models.ErrMessageStorageFailed
		return res
	}
	res.Succeeded = true
	res.Action = models.ActionStored

	s.bestEffort(ctx, "directory", func() error {
		if s.directory == nil {
			return nil
		}
		return s.directory.TouchLastActive(ctx, senderID)
	})

	if ev.Message != nil && ev.Message.Type == models.MessageTypeText && ev.Source.IsIndividual() {
		s.dispatchResponder(ctx, ev)
	}

	return res
}

// noticeFor builds the renderable push payload for one message event. The
// profile lookup enriching title and icon is strictly optional and bounded;
// its failure leaves the sender ID as the display handle.
func (s *WebhookService) noticeFor(ctx context.Context, ev *models.InboundEvent) *notification.Notice {
	senderID := ev.Source.UserID

	n := &notification.Notice{
		Title:       "New message",
		Body:        noticeBody(ev.Message),
		EventID:     ev.EventID(),
		SenderID:    senderID,
		SourceType:  ev.Source.Type,
		GroupID:     ev.Source.ContextID(),
		MessageType: ev.Message.Type,
		Partition:   partition.KeyFromMillis(ev.Timestamp),
		SentAt:      ev.Timestamp,
	}

	display := senderID
	if s.profiles != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if p, err := s.profiles.GetProfile(pctx, senderID); err == nil && p != nil {
			if p.DisplayName != "" {
				display = p.DisplayName
			}
			n.IconURL = p.PictureURL
		}
	}
	if ev.Source.IsIndividual() {
		n.Title = "New message from " + display
	} else {
		n.Title = "New group message from " + display
	}

	if s.consoleBase != "" {
		target := senderID
		if ctxID := ev.Source.ContextID(); ctxID != "" {
			target = ctxID
		}
		n.DeepLinkURL = s.consoleBase + "/conversations/" + target
	}
	return n
}

// noticeBody summarizes the message for the push body. Text is snipped; other
// types get a short human description.
func noticeBody(m *models.EventMessage) string {
	switch m.Type {
	case models.MessageTypeText:
		return snippet(m.Text, 100)
	case models.MessageTypeImage:
		return "Sent an image"
	case models.MessageTypeVideo:
		return "Sent a video"
	case models.MessageTypeAudio:
		return "Sent a voice message"
	case models.MessageTypeFile:
		if m.FileName != "" {
			return "Sent a file: " + m.FileName
		}
		return "Sent a file"
	case models.MessageTypeLocation:
		return "Shared a location"
	case models.MessageTypeSticker:
		return "Sent a sticker"
	default:
		return "Sent a " + m.Type + " message"
	}
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

// dispatchResponder invokes the auto-responder at most once per event ID.
// The claim guard is separate from the storage ledger on purpose: the two
// checks protect different downstream systems and must not skip each other.
func (s *WebhookService) dispatchResponder(ctx context.Context, ev *models.InboundEvent) {
	if s.responder == nil {
		return
	}

	eventID := ev.EventID()
	claimed, err := s.guard.Claim(ctx, eventID)
	if err != nil {
		metrics.ResponderDispatches.WithLabelValues("guard_error").Inc()
		s.logger.WarnContext(ctx, "responder guard check failed",
			logging.EventID(eventID), logging.Err(err))
		return
	}
	if !claimed {
		metrics.ResponderDispatches.WithLabelValues("duplicate").Inc()
		s.logger.DebugContext(ctx, "responder dispatch already claimed",
			logging.EventID(eventID))
		return
	}

	result, err := s.responder.Handle(ctx, &autoresponder.Request{
		UserID:         ev.Source.UserID,
		SenderID:       ev.Source.UserID,
		Text:           ev.Message.Text,
		ReplyToken:     ev.ReplyToken,
		EventTimestamp: ev.Timestamp,
	})
	if err != nil {
		metrics.ResponderDispatches.WithLabelValues("error").Inc()
		metrics.CollaboratorErrors.WithLabelValues("autoresponder").Inc()
		s.logger.WarnContext(ctx, "auto-responder call failed",
			logging.EventID(eventID), logging.Err(err))
		return
	}

	if result.Triggered {
		metrics.ResponderDispatches.WithLabelValues("triggered").Inc()
	} else {
		metrics.ResponderDispatches.WithLabelValues("no_match").Inc()
	}
}

func (s *WebhookService) handleFollow(ctx context.Context, index int, ev *models.InboundEvent) models.EventResult {
	res := models.EventResult{Index: index, EventType: ev.Type, Succeeded: true, Action: models.ActionProcessed}
	userID := ev.Source.UserID

	s.bestEffort(ctx, "directory", func() error {
		if s.directory == nil {
			return nil
		}
		if _, err := s.directory.EnsureSenderExists(ctx, userID, ev.Source); err != nil {
			return err
		}
		return s.directory.MarkFollowed(ctx, userID, time.UnixMilli(ev.Timestamp).UTC())
	})

	s.bestEffort(ctx, "profile_refresh", func() error {
		if s.profiles == nil || s.directory == nil {
			return nil
		}
		profile, err := s.profiles.GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		return s.directory.UpdateProfile(ctx, userID, &directory.Profile{
			DisplayName:   profile.DisplayName,
			PictureURL:    profile.PictureURL,
			StatusMessage: profile.StatusMessage,
			Language:      profile.Language,
		})
	})

	return res
}

func (s *WebhookService) handleUnfollow(ctx context.Context, index int, ev *models.InboundEvent) models.EventResult {
	res := models.EventResult{Index: index, EventType: ev.Type, Succeeded: true, Action: models.ActionProcessed}
	userID := ev.Source.UserID

	s.bestEffort(ctx, "directory", func() error {
		if s.directory == nil {
			return nil
		}
		if err := s.directory.MarkUnfollowed(ctx, userID, time.UnixMilli(ev.Timestamp).UTC()); err != nil {
			return err
		}
		return s.directory.InvalidateProfile(ctx, userID)
	})

	return res
}

func (s *WebhookService) handleJoin(ctx context.Context, index int, ev *models.InboundEvent) models.EventResult {
	res := models.EventResult{Index: index, EventType: ev.Type, Succeeded: true, Action: models.ActionProcessed}
	contextID := ev.Source.ContextID()
	if contextID == "" {
		// A join without a group or room context carries nothing to sync.
		res.Action = models.ActionLoggedOnly
		return res
	}

	s.bestEffort(ctx, "roster_sync", func() error {
		if s.directory == nil {
			return nil
		}
		if err := s.directory.EnsureGroupSynced(ctx, contextID, ev.Source.Type); err != nil {
			return err
		}
		if s.rosters == nil {
			return nil
		}

		var (
			name    string
			members []string
			err     error
		)
		if ev.Source.Type == models.SourceTypeGroup {
			if summary, serr := s.rosters.GetGroupSummary(ctx, contextID); serr == nil {
				name = summary.GroupName
			}
			members, err = s.rosters.GetGroupMemberIDs(ctx, contextID)
		} else {
			members, err = s.rosters.GetRoomMemberIDs(ctx, contextID)
		}
		if err != nil {
			return fmt.Errorf("fetch roster %s: %w", contextID, err)
		}
		return s.directory.SyncRoster(ctx, contextID, name, members)
	})

	return res
}

// handleMemberChange adds or removes each listed member. Partial member
// failures reduce the processed count but never fail the event.
func (s *WebhookService) handleMemberChange(ctx context.Context, index int, ev *models.InboundEvent, list *models.MemberList, joined bool) models.EventResult {
	res := models.EventResult{Index: index, EventType: ev.Type, Succeeded: true, Action: models.ActionProcessed}
	contextID := ev.Source.ContextID()

	if list == nil || len(list.Members) == 0 || contextID == "" || s.directory == nil {
		res.Action = models.ActionLoggedOnly
		return res
	}

	for _, member := range list.Members {
		if member.UserID == "" {
			continue
		}
		var err error
		if joined {
			err = s.directory.AddMember(ctx, contextID, member.UserID)
		} else {
			err = s.directory.RemoveMember(ctx, contextID, member.UserID)
		}
		if err != nil {
			metrics.CollaboratorErrors.WithLabelValues("directory").Inc()
			s.logger.WarnContext(ctx, "roster member update failed",
				slog.String("context_id", contextID),
				logging.SenderID(member.UserID),
				logging.Err(err))
			continue
		}
		res.MembersProcessed++
	}

	return res
}

// bestEffort runs a side effect whose failure must never change the owning
// event's outcome. Failures are logged and counted under the collaborator
// name.
func (s *WebhookService) bestEffort(ctx context.Context, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CollaboratorErrors.WithLabelValues(name).Inc()
			s.logger.ErrorContext(ctx, "best-effort side effect panicked",
				slog.String("collaborator", name),
				slog.Any("panic", r))
		}
	}()

	if err := fn(); err != nil {
		metrics.CollaboratorErrors.WithLabelValues(name).Inc()
		s.logger.WarnContext(ctx, "best-effort side effect failed",
			slog.String("collaborator", name),
			logging.Err(err))
	}
}

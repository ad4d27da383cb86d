// Package normalizer converts raw message payloads into their canonical
// stored form: a tagged switch over the closed message-type set.
package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/metrics"
	"github.com/chatrelay/chatrelay/internal/models"
)

// CachedObject describes a media object persisted to local storage after an
// on-demand download.
type CachedObject struct {
	URL         string
	FileName    string
	Size        int64
	ContentType string
}

// MediaCache downloads platform-hosted content and persists it locally,
// returning usable URLs. Implementations return structured errors, never
// panic across the boundary.
type MediaCache interface {
	CacheOriginal(ctx context.Context, messageID string) (*CachedObject, error)
	CachePreview(ctx context.Context, messageID string) (*CachedObject, error)
}

// Normalizer produces canonical content for every supported message type.
type Normalizer struct {
	media MediaCache
}

// New creates a Normalizer. media is required for platform-hosted binary
// content; passing nil makes such messages fail normalization.
func New(media MediaCache) *Normalizer {
	return &Normalizer{media: media}
}

// Normalize returns the canonical content string for msg. Text yields inline
// markup, binary types a JSON descriptor, everything else opaque JSON.
func (n *Normalizer) Normalize(ctx context.Context, msg *models.EventMessage) (string, error) {
	start := time.Now()
	defer func() {
		metrics.NormalizationDuration.Observe(time.Since(start).Seconds())
	}()

	switch msg.Type {
	case models.MessageTypeText:
		return normalizeText(msg.Text, msg.Emojis), nil
	case models.MessageTypeImage, models.MessageTypeAudio, models.MessageTypeFile:
		return n.normalizeMedia(ctx, msg)
	case models.MessageTypeVideo:
		return n.normalizeVideo(ctx, msg)
	case models.MessageTypeLocation:
		return marshalContent(models.LocationContent{
			Title:     sanitizeText(msg.Title),
			Address:   sanitizeText(msg.Address),
			Latitude:  msg.Latitude,
			Longitude: msg.Longitude,
		})
	case models.MessageTypeSticker:
		return marshalContent(models.StickerContent{
			PackageID: msg.PackageID,
			StickerID: msg.StickerID,
		})
	default:
		// Complex layout types round-trip as opaque JSON for the console
		// to render.
		if len(msg.Raw) > 0 {
			return string(msg.Raw), nil
		}
		return marshalContent(msg)
	}
}

func (n *Normalizer) normalizeMedia(ctx context.Context, msg *models.EventMessage) (string, error) {
	content := models.MediaContent{
		ID:         msg.ID,
		Provider:   providerType(msg),
		FileName:   msg.FileName,
		FileSize:   msg.FileSize,
		DurationMS: msg.Duration,
	}

	if msg.ContentProvider != nil {
		content.URL = msg.ContentProvider.OriginalContentURL
		content.PreviewURL = msg.ContentProvider.PreviewImageURL
	}

	if content.URL == "" {
		if n.media == nil {
			return "", fmt.Errorf("message %s: platform-hosted content but no media cache configured", msg.ID)
		}
		obj, err := n.media.CacheOriginal(ctx, msg.ID)
		if err != nil {
			return "", fmt.Errorf("cache original content for message %s: %w", msg.ID, err)
		}
		content.URL = obj.URL
		if content.FileName == "" {
			content.FileName = obj.FileName
		}
		if content.FileSize == 0 {
			content.FileSize = obj.Size
		}

		if msg.Type == models.MessageTypeImage {
			if preview, err := n.media.CachePreview(ctx, msg.ID); err == nil {
				content.PreviewURL = preview.URL
			}
		}
	}

	if content.FileName == "" {
		content.FileName = deriveFileName(content.URL, msg.Type, msg.ID)
	}

	return marshalContent(content)
}

func (n *Normalizer) normalizeVideo(ctx context.Context, msg *models.EventMessage) (string, error) {
	content := models.VideoContent{}

	if msg.ContentProvider != nil {
		content.VideoURL = msg.ContentProvider.OriginalContentURL
		content.PreviewURL = msg.ContentProvider.PreviewImageURL
	}

	if content.VideoURL == "" {
		if n.media == nil {
			return "", fmt.Errorf("message %s: platform-hosted video but no media cache configured", msg.ID)
		}
		obj, err := n.media.CacheOriginal(ctx, msg.ID)
		if err != nil {
			return "", fmt.Errorf("cache video content for message %s: %w", msg.ID, err)
		}
		content.VideoURL = obj.URL
		content.VideoName = obj.FileName

		if preview, err := n.media.CachePreview(ctx, msg.ID); err == nil {
			content.PreviewURL = preview.URL
		}
	}

	if content.VideoName == "" {
		content.VideoName = deriveFileName(content.VideoURL, models.MessageTypeVideo, msg.ID)
	}

	return marshalContent(content)
}

func providerType(msg *models.EventMessage) string {
	if msg.ContentProvider != nil && msg.ContentProvider.Type != "" {
		return msg.ContentProvider.Type
	}
	return models.ContentProviderLine
}

// deriveFileName takes the last URL path element, falling back to a
// synthesized name when the URL gives nothing usable.
func deriveFileName(rawURL, messageType, messageID string) string {
	if rawURL != "" {
		base := path.Base(rawURL)
		if i := strings.IndexAny(base, "?#"); i >= 0 {
			base = base[:i]
		}
		if base != "" && base != "." && base != "/" {
			return base
		}
	}
	return fmt.Sprintf("%s-%s", messageType, messageID)
}

func marshalContent(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}
	return string(data), nil
}

package media

import (
	"context"
	"fmt"
	"time"

	"github.com/chatrelay/chatrelay/internal/metrics"
	"github.com/chatrelay/chatrelay/internal/normalizer"
	"github.com/chatrelay/chatrelay/internal/platform"
)

// ContentAPI is the slice of the platform client used for content download.
type ContentAPI interface {
	GetContent(ctx context.Context, messageID string) (*platform.Content, error)
	GetContentPreview(ctx context.Context, messageID string) (*platform.Content, error)
}

// Cache fetches platform-hosted content and persists it through an
// ObjectStore. It implements normalizer.MediaCache.
type Cache struct {
	api   ContentAPI
	store *ObjectStore
}

// NewCache creates a media cache over the given content API and object store.
func NewCache(api ContentAPI, store *ObjectStore) *Cache {
	return &Cache{api: api, store: store}
}

// CacheOriginal downloads and persists the original content of a message.
func (c *Cache) CacheOriginal(ctx context.Context, messageID string) (*normalizer.CachedObject, error) {
	return c.cache(ctx, messageID, c.api.GetContent)
}

// CachePreview downloads and persists the preview rendition of a message.
// Preview bytes differ from the original, so the two land in distinct
// objects without any naming convention.
func (c *Cache) CachePreview(ctx context.Context, messageID string) (*normalizer.CachedObject, error) {
	return c.cache(ctx, messageID, c.api.GetContentPreview)
}

func (c *Cache) cache(ctx context.Context, messageID string, fetch func(context.Context, string) (*platform.Content, error)) (*normalizer.CachedObject, error) {
	start := time.Now()
	content, err := fetch(ctx, messageID)
	metrics.MediaFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MediaFetchErrors.Inc()
		return nil, fmt.Errorf("fetch content: %w", err)
	}

	url, name, err := c.store.Save(content.Bytes, ExtensionFor(content.ContentType))
	if err != nil {
		return nil, fmt.Errorf("persist content: %w", err)
	}

	return &normalizer.CachedObject{
		URL:         url,
		FileName:    name,
		Size:        int64(len(content.Bytes)),
		ContentType: content.ContentType,
	}, nil
}

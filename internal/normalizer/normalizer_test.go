package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/models"
)

type mockMediaCache struct {
	original      *CachedObject
	preview       *CachedObject
	originalErr   error
	previewErr    error
	originalCalls int
	previewCalls  int
}

func (m *mockMediaCache) CacheOriginal(ctx context.Context, messageID string) (*CachedObject, error) {
	m.originalCalls++
	return m.original, m.originalErr
}

func (m *mockMediaCache) CachePreview(ctx context.Context, messageID string) (*CachedObject, error) {
	m.previewCalls++
	return m.preview, m.previewErr
}

func TestNormalize_PlainText(t *testing.T) {
	n := New(nil)

	content, err := n.Normalize(context.Background(), &models.EventMessage{
		Type: models.MessageTypeText,
		Text: "hello world",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}

func TestNormalize_TextIsEscaped(t *testing.T) {
	n := New(nil)

	content, err := n.Normalize(context.Background(), &models.EventMessage{
		Type: models.MessageTypeText,
		Text: "<script>alert(1)</script>\x00\x08 ok",
	})
	require.NoError(t, err)
	assert.NotContains(t, content, "<script>")
	assert.NotContains(t, content, "\x00")
	assert.Contains(t, content, "ok")
}

func TestNormalize_TextWithEmojis(t *testing.T) {
	n := New(nil)

	// "(hello)" span annotated as a catalog pictogram
	content, err := n.Normalize(context.Background(), &models.EventMessage{
		Type: models.MessageTypeText,
		Text: "hi (hello) there",
		Emojis: []models.Emoji{
			{Index: 3, Length: 7, ProductID: "5ac1bfd5040ab15980c9b435", EmojiID: "001"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, content, "hi ")
	assert.Contains(t, content, " there")
	assert.NotContains(t, content, "(hello)")
	assert.Contains(t, content, `<img class="chat-emoji"`)
	assert.Contains(t, content, "5ac1bfd5040ab15980c9b435")
	assert.Contains(t, content, "data-fallback-src=", "render carries mirror URLs")
}

func TestNormalize_EmoticonFallback(t *testing.T) {
	n := New(nil)

	content, err := n.Normalize(context.Background(), &models.EventMessage{
		Type: models.MessageTypeText,
		Text: "great job (smile)",
	})
	require.NoError(t, err)
	assert.NotContains(t, content, "(smile)")
	assert.Contains(t, content, "\U0001F604")
}

func TestNormalize_ExternalMediaKeepsURLs(t *testing.T) {
	cache := &mockMediaCache{}
	n := New(cache)

	content, err := n.Normalize(context.Background(), &models.EventMessage{
		ID:   "M1",
		Type: models.MessageTypeImage,
		ContentProvider: &models.ContentProvider{
			Type:               "external",
			OriginalContentURL: "https://cdn.example.com/pics/cat.jpg",
			PreviewImageURL:    "https://cdn.example.com/pics/cat_s.jpg",
		},
	})
	require.NoError(t, err)

	var media models.MediaContent
	require.NoError(t, json.Unmarshal([]byte(content), &media))
	assert.Equal(t, "https://cdn.example.com/pics/cat.jpg", media.URL)
	assert.Equal(t, "https://cdn.example.com/pics/cat_s.jpg", media.PreviewURL)
	assert.Equal(t, "cat.jpg", media.FileName)
	assert.Zero(t, cache.originalCalls, "no fetch for directly usable URLs")
}

func TestNormalize_PlatformHostedMediaFetchedOnce(t *testing.T) {
	cache := &mockMediaCache{
		original: &CachedObject{URL: "https://files.local/m/M1.jpg", FileName: "M1.jpg", Size: 2048},
		preview:  &CachedObject{URL: "https://files.local/m/M1_preview.jpg", FileName: "M1_preview.jpg"},
	}
	n := New(cache)

	content, err := n.Normalize(context.Background(), &models.EventMessage{
		ID:              "M1",
		Type:            models.MessageTypeImage,
		ContentProvider: &models.ContentProvider{Type: models.ContentProviderLine},
	})
	require.NoError(t, err)

	var media models.MediaContent
	require.NoError(t, json.Unmarshal([]byte(content), &media))
	assert.Equal(t, "https://files.local/m/M1.jpg", media.URL)
	assert.Equal(t, "https://files.local/m/M1_preview.jpg", media.PreviewURL)
	assert.Equal(t, int64(2048), media.FileSize)
	assert.Equal(t, 1, cache.originalCalls)
	assert.Equal(t, 1, cache.previewCalls)
}

func TestNormalize_MediaFetchFailureIsError(t *testing.T) {
	cache := &mockMediaCache{originalErr: errors.New("content api 500")}
	n := New(cache)

	_, err := n.Normalize(context.Background(), &models.EventMessage{
		ID:              "M2",
		Type:            models.MessageTypeAudio,
		ContentProvider: &models.ContentProvider{Type: models.ContentProviderLine},
	})
	assert.Error(t, err)
}

func TestNormalize_Video(t *testing.T) {
	cache := &mockMediaCache{
		original: &CachedObject{URL: "https://files.local/m/V1.mp4", FileName: "V1.mp4"},
		preview:  &CachedObject{URL: "https://files.local/m/V1_preview.jpg"},
	}
	n := New(cache)

	content, err := n.Normalize(context.Background(), &models.EventMessage{
		ID:              "V1",
		Type:            models.MessageTypeVideo,
		ContentProvider: &models.ContentProvider{Type: models.ContentProviderLine},
	})
	require.NoError(t, err)

	var video models.VideoContent
	require.NoError(t, json.Unmarshal([]byte(content), &video))
	assert.Equal(t, "https://files.local/m/V1.mp4", video.VideoURL)
	assert.Equal(t, "V1.mp4", video.VideoName)
	assert.Equal(t, "https://files.local/m/V1_preview.jpg", video.PreviewURL)
}

func TestNormalize_VideoNameSynthesizedFallback(t *testing.T) {
	n := New(nil)

	content, err := n.Normalize(context.Background(), &models.EventMessage{
		ID:   "V2",
		Type: models.MessageTypeVideo,
		ContentProvider: &models.ContentProvider{
			Type:               "external",
			OriginalContentURL: "https://cdn.example.com/",
		},
	})
	require.NoError(t, err)

	var video models.VideoContent
	require.NoError(t, json.Unmarshal([]byte(content), &video))
	assert.Equal(t, "video-V2", video.VideoName)
}

func TestNormalize_Location(t *testing.T) {
	n := New(nil)

	content, err := n.Normalize(context.Background(), &models.EventMessage{
		Type:      models.MessageTypeLocation,
		Title:     "Office",
		Address:   "1-6-1 Yotsuya",
		Latitude:  35.687,
		Longitude: 139.72,
	})
	require.NoError(t, err)

	var loc models.LocationContent
	require.NoError(t, json.Unmarshal([]byte(content), &loc))
	assert.Equal(t, "Office", loc.Title)
	assert.InDelta(t, 35.687, loc.Latitude, 0.0001)
}

func TestNormalize_Sticker(t *testing.T) {
	n := New(nil)

	content, err := n.Normalize(context.Background(), &models.EventMessage{
		Type:      models.MessageTypeSticker,
		PackageID: "446",
		StickerID: "1988",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"packageId":"446","stickerId":"1988"}`, content)
}

func TestNormalize_OpaqueTypesRoundTrip(t *testing.T) {
	n := New(nil)

	raw := []byte(`{"id":"F1","type":"flex","altText":"receipt","contents":{"type":"bubble"}}`)
	var msg models.EventMessage
	require.NoError(t, json.Unmarshal(raw, &msg))

	content, err := n.Normalize(context.Background(), &msg)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), content)
}

func TestSubstituteEmojis_StripsForeignMarkup(t *testing.T) {
	// "a <b>bold</b> " is 14 runes; the annotated span "(hi)" follows it.
	out := substituteEmojis("a <b>bold</b> (hi)", []models.Emoji{
		{Index: 14, Length: 4, ProductID: "p1", EmojiID: "9"},
	})

	assert.Equal(t, 1, strings.Count(out, "chat-emoji"))
	assert.NotContains(t, out, "<b>")
	assert.Contains(t, out, "bold")
}

func TestSubstituteEmojis_RejectsUnsafeInjectedImage(t *testing.T) {
	out := substituteEmojis(`x <img src="javascript:alert(1)"> (hi)`, []models.Emoji{
		{Index: 34, Length: 4, ProductID: "p1", EmojiID: "9"},
	})

	assert.NotContains(t, out, "javascript:")
	assert.Equal(t, 1, strings.Count(out, "chat-emoji"))
}

func TestSubstituteEmojis_AdjacentAndOutOfRange(t *testing.T) {
	out := substituteEmojis("xy", []models.Emoji{
		{Index: 0, Length: 1, ProductID: "p1", EmojiID: "1"},
		{Index: 1, Length: 1, ProductID: "p1", EmojiID: "2"},
		{Index: 99, Length: 1, ProductID: "p1", EmojiID: "3"},
	})
	assert.Equal(t, 2, strings.Count(out, "chat-emoji"), "out-of-range annotation dropped")
	assert.NotContains(t, out, "xy")
}

// Package media downloads platform-hosted message content on demand and
// persists it to local object storage.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// extensions maps common content types to file extensions; unknown types get
// ".bin".
var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"audio/x-m4a":     ".m4a",
	"audio/mp4":       ".m4a",
	"audio/mpeg":      ".mp3",
	"application/pdf": ".pdf",
}

// ObjectStore writes downloaded content under a base directory and exposes it
// at a public base URL. Objects are content-addressed: the file name is the
// sha256 of the bytes, sharded by the first two hex digits, so redelivered
// media dedupes to the same object.
type ObjectStore struct {
	baseDir       string
	publicBaseURL string
}

// NewObjectStore creates an ObjectStore rooted at baseDir. The directory is
// created if absent.
func NewObjectStore(baseDir, publicBaseURL string) (*ObjectStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &ObjectStore{
		baseDir:       baseDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Save writes data under its content digest and returns the public URL and
// object name. An already present object is left untouched. Writes go through
// a temp file and rename so partially written objects are never visible.
func (s *ObjectStore) Save(data []byte, ext string) (string, string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	shard := digest[:2]
	name := digest + ext

	dir := filepath.Join(s.baseDir, shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create shard dir: %w", err)
	}

	target := filepath.Join(dir, name)
	url := s.publicBaseURL + "/" + shard + "/" + name
	if _, err := os.Stat(target); err == nil {
		return url, name, nil
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", "", fmt.Errorf("write media object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("close media object: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("finalize media object: %w", err)
	}

	return url, name, nil
}

// ExtensionFor returns the file extension for a content type.
func ExtensionFor(contentType string) string {
	// Strip parameters like "; charset=..."
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return ".bin"
}

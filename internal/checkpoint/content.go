// internal/checkpoint/content.go
package checkpoint

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ContentStore is a content-addressed blob pool. Blobs are keyed by the
// SHA-256 of their uncompressed content and stored zstd-compressed, so
// identical content is stored exactly once.
type ContentStore struct {
	poolDir string
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewContentStore creates a content store rooted at poolDir
func NewContentStore(poolDir string, compressionLevel int) (*ContentStore, error) {
	if err := os.MkdirAll(poolDir, 0755); err != nil {
		return nil, fmt.Errorf("create content pool: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &ContentStore{
		poolDir: poolDir,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// HashContent calculates the SHA-256 hash of content
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return fmt.Sprintf("%x", h)
}

func (c *ContentStore) blobPath(hash string) string {
	return filepath.Join(c.poolDir, hash)
}

// Put stores content and returns its hash. Idempotent: content already in
// the pool is not written again.
func (c *ContentStore) Put(content []byte) (string, error) {
	hash := HashContent(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	blobPath := c.blobPath(hash)
	if _, err := os.Stat(blobPath); err == nil {
		return hash, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat blob %s: %w", hash, err)
	}

	compressed := c.encoder.EncodeAll(content, nil)

	// Write via a temp file so a crash never leaves a truncated blob under
	// its final hash name.
	tmp, err := os.CreateTemp(c.poolDir, ".blob-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob %s: %w", hash, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob %s: %w", hash, err)
	}
	if err := os.Rename(tmp.Name(), blobPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit blob %s: %w", hash, err)
	}

	return hash, nil
}

// Get retrieves content by hash
func (c *ContentStore) Get(hash string) ([]byte, error) {
	compressed, err := os.ReadFile(c.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", hash, ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}

	content, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob %s: %w", hash, err)
	}
	return content, nil
}

// Has reports whether a blob exists in the pool
func (c *ContentStore) Has(hash string) bool {
	_, err := os.Stat(c.blobPath(hash))
	return err == nil
}

// Delete removes a blob from the pool. Deleting an absent blob is not an
// error.
func (c *ContentStore) Delete(hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.blobPath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", hash, err)
	}
	return nil
}

// Hashes lists every blob currently in the pool
func (c *ContentStore) Hashes() ([]string, error) {
	entries, err := os.ReadDir(c.poolDir)
	if err != nil {
		return nil, fmt.Errorf("read content pool: %w", err)
	}

	var hashes []string
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		hashes = append(hashes, entry.Name())
	}
	return hashes, nil
}

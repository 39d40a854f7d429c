package minio

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/frkb/fingerprint-sync/internal/bloomcache"
)

var _ bloomcache.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore persists serialized bloom filters as objects keyed
// "bloom/<userKey>.bin", reusing the generic object-storage client rather
// than growing the Meta Store's row with large blobs.
type SnapshotStore struct {
	client *Client
}

func NewSnapshotStore(client *Client) *SnapshotStore {
	return &SnapshotStore{client: client}
}

func (s *SnapshotStore) Save(ctx context.Context, userKey string, data []byte) (string, uint32, error) {
	objectKey := snapshotKey(userKey)
	if err := s.client.Upload(ctx, objectKey, bytes.NewReader(data)); err != nil {
		return "", 0, fmt.Errorf("failed to upload bloom snapshot: %w", err)
	}
	return objectKey, crc32.ChecksumIEEE(data), nil
}

func (s *SnapshotStore) Load(ctx context.Context, objectKey string, wantChecksum uint32) ([]byte, error) {
	reader, err := s.client.Download(ctx, objectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download bloom snapshot: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read bloom snapshot: %w", err)
	}

	if crc32.ChecksumIEEE(data) != wantChecksum {
		return nil, fmt.Errorf("bloom snapshot checksum mismatch for %s", objectKey)
	}

	return data, nil
}

func snapshotKey(userKey string) string {
	return "bloom/" + userKey + ".bin"
}

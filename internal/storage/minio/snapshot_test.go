package minio

import (
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	api := &fakeMinio{}
	client := &Client{api: api, bucket: "b"}
	store := NewSnapshotStore(client)

	data := []byte("serialized bloom filter bytes")

	objectKey, checksum, err := store.Save(ctx, "user-1", data)
	require.NoError(t, err)
	assert.Equal(t, "bloom/user-1.bin", objectKey)
	assert.Equal(t, crc32.ChecksumIEEE(data), checksum)

	api.getRC = io.NopCloser(bytes.NewReader(data))
	loaded, err := store.Load(ctx, objectKey, checksum)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

func TestSnapshotStore_Save_UploadError(t *testing.T) {
	ctx := context.Background()
	api := &fakeMinio{putErr: errors.New("put-fail")}
	client := &Client{api: api, bucket: "b"}
	store := NewSnapshotStore(client)

	_, _, err := store.Save(ctx, "user-1", []byte("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload bloom snapshot")
}

func TestSnapshotStore_Load_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	api := &fakeMinio{getRC: io.NopCloser(bytes.NewReader([]byte("tampered")))}
	client := &Client{api: api, bucket: "b"}
	store := NewSnapshotStore(client)

	_, err := store.Load(ctx, "bloom/user-1.bin", crc32.ChecksumIEEE([]byte("original")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestSnapshotStore_Load_DownloadError(t *testing.T) {
	ctx := context.Background()
	api := &fakeMinio{getErr: errors.New("download failed")}
	client := &Client{api: api, bucket: "b"}
	store := NewSnapshotStore(client)

	_, err := store.Load(ctx, "bloom/user-1.bin", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to download bloom snapshot")
}

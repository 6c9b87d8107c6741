package codec

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/bluesky-social/jetstream/pkg/models"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(t *testing.T) []byte {
	t.Helper()
	evt := models.Event{
		Did:    "did:plc:abc123",
		TimeUS: 1700000000000000,
		Kind:   "commit",
		Commit: &models.Commit{
			Operation:  "create",
			Collection: "app.bsky.feed.post",
			RKey:       "3lbdbqqdxxc2w",
			Record:     json.RawMessage(`{"createdAt":"2023-11-14T22:13:20Z","text":"hi"}`),
		},
	}
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return data
}

func TestDecodePlainJSON(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)
	defer dec.Close()

	evt, err := dec.Decode(sampleEvent(t), false)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:abc123", evt.Did)
	assert.Equal(t, int64(1700000000000000), evt.TimeUS)
	require.NotNil(t, evt.Commit)
	assert.Equal(t, "3lbdbqqdxxc2w", evt.Commit.RKey)
	assert.Equal(t, "app.bsky.feed.post", evt.Commit.Collection)
}

func TestDecodeCompressedFrame(t *testing.T) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderDict(models.ZSTDDictionary))
	require.NoError(t, err)
	payload := enc.EncodeAll(sampleEvent(t), nil)
	require.NoError(t, enc.Close())

	dec, err := NewDecoder()
	require.NoError(t, err)
	defer dec.Close()

	evt, err := dec.Decode(payload, true)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:abc123", evt.Did)
	require.NotNil(t, evt.Commit)
	assert.Equal(t, "create", evt.Commit.Operation)
}

func TestDecodeCorruptCompressedFrame(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)
	defer dec.Close()

	_, err = dec.Decode([]byte{0x28, 0xb5, 0x2f, 0xfd, 0xff, 0xff, 0x01}, true)
	assert.Error(t, err)
}

func TestDecodeMalformedJSON(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)
	defer dec.Close()

	_, err = dec.Decode([]byte(`{"did": unterminated`), false)
	assert.Error(t, err)
}

func TestDecodeOversizedFrameRejected(t *testing.T) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderDict(models.ZSTDDictionary))
	require.NoError(t, err)
	payload := enc.EncodeAll(bytes.Repeat([]byte("a"), maxDecodedSize+1), nil)
	require.NoError(t, enc.Close())

	dec, err := NewDecoder()
	require.NoError(t, err)
	defer dec.Close()

	_, err = dec.Decode(payload, true)
	assert.Error(t, err)
}

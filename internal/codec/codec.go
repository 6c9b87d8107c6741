// Package codec decodes raw Jetstream frames into event envelopes.
// Frames arrive either as plain JSON or as zstd-compressed JSON built
// against the dictionary shipped with the Jetstream models package.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/bluesky-social/jetstream/pkg/models"
	"github.com/klauspost/compress/zstd"
)

// maxDecodedSize caps the decompressed size of a single frame. Real
// events sit far below this; anything larger is treated as corrupt.
const maxDecodedSize = 409600

// Decoder turns raw frame payloads into events. A Decoder is not safe
// for concurrent use; the read loop owns it.
type Decoder struct {
	zstd *zstd.Decoder
}

// NewDecoder creates a Decoder primed with the Jetstream zstd
// dictionary.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderDicts(models.ZSTDDictionary),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		return nil, fmt.Errorf("codec: create zstd decoder: %w", err)
	}
	return &Decoder{zstd: dec}, nil
}

// Decode parses one frame. With compressed set the payload is
// dictionary-decompressed first; otherwise it is taken as raw JSON.
func (d *Decoder) Decode(payload []byte, compressed bool) (*models.Event, error) {
	data := payload
	if compressed {
		var err error
		data, err = d.zstd.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: decompress frame: %w", err)
		}
	}

	var evt models.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("codec: unmarshal event: %w", err)
	}
	return &evt, nil
}

// Close releases the decompressor.
func (d *Decoder) Close() {
	d.zstd.Close()
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const zstdJSONContentType = "application/zstd"

// PutCompressedJSON stores v as zstd-compressed JSON.
func PutCompressedJSON(ctx context.Context, store ObjectStorage, bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	_ = enc.Close()
	return store.PutObject(ctx, bucket, key, bytes.NewReader(compressed), int64(len(compressed)), zstdJSONContentType)
}

// GetCompressedJSON reads an object written by PutCompressedJSON into v.
func GetCompressedJSON(ctx context.Context, store ObjectStorage, bucket, key string, v any) error {
	obj, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer obj.Close()

	dec, err := zstd.NewReader(obj)
	if err != nil {
		return err
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", key, err)
	}
	return json.Unmarshal(raw, v)
}

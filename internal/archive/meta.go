package archive

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeMeta packs the unknown-field side channel for storage.
// Returns nil for an empty map so the column stays NULL.
func EncodeMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := msgpack.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return b, nil
}

// DecodeMeta unpacks a stored meta blob. Returns nil for empty input.
func DecodeMeta(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := msgpack.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return meta, nil
}

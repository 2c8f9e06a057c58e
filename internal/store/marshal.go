package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/kiln/internal/digest"
)

// normalizeNames sorts and deduplicates unit names and drops empty ones.
// Returns an empty slice (not nil) for no names.
func normalizeNames(names []string) []string {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name != "" {
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// marshalNames converts a name list to canonical JSON TEXT for storage.
func marshalNames(names []string) (string, error) {
	data, err := digest.MarshalCanonical(normalizeNames(names))
	if err != nil {
		return "", fmt.Errorf("marshal names: %w", err)
	}
	return string(data), nil
}

// unmarshalNames parses a stored JSON array. Returns nil for an empty array.
func unmarshalNames(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal names: %w", err)
	}
	return names, nil
}

// compressDefinitions encodes build definitions as zstd-compressed canonical
// JSON. Returns nil for no definitions so the column stays NULL.
func compressDefinitions(defs []string) ([]byte, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	data, err := digest.MarshalCanonical(defs)
	if err != nil {
		return nil, fmt.Errorf("marshal definitions: %w", err)
	}

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		encoder.Close()
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}
	return compressed.Bytes(), nil
}

// decompressDefinitions reverses compressDefinitions.
func decompressDefinitions(blob []byte) ([]string, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	decoder, err := zstd.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	var defs []string
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("unmarshal definitions: %w", err)
	}
	return defs, nil
}

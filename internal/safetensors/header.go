package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// readHeader reads the 8-byte length prefix and the JSON header span from r,
// returning the raw header entries. The reader is left positioned at the
// start of the data section.
func readHeader(r io.Reader) (map[string]json.RawMessage, error) {
	var lenBytes [8]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeaderTooSmall, err)
	}

	headerLen := binary.LittleEndian.Uint64(lenBytes[:])
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("%w: want %d bytes: %w", ErrHeaderTruncated, headerLen, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	return raw, nil
}

// ScanKeys extracts the tensor names from a safetensors stream without
// touching the data section. Only the length prefix and the header span are
// read; payload bytes are never deserialized.
func ScanKeys(r io.Reader) ([]string, error) {
	raw, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for name := range raw {
		if name == metadataKey {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}

package safetensors

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/distml/checkpoint/internal/tensor"
)

// File is a fully decoded safetensors file. Tensor payloads are views into
// one shared data buffer.
type File struct {
	metadata map[string]string
	tensors  map[string]*tensor.RawTensor
}

// Decode reads a complete safetensors stream and returns the decoded file.
func Decode(r io.Reader) (*File, error) {
	raw, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	var metadata map[string]string
	if metaRaw, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(metaRaw, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data section: %w", err)
	}

	tensors := make(map[string]*tensor.RawTensor, len(raw))
	for name, value := range raw {
		if name == metadataKey {
			continue
		}

		var info tensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tensor %s: %w", name, err)
		}

		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start || end > int64(len(data)) {
			return nil, fmt.Errorf("invalid data offsets for tensor %s: [%d, %d]", name, start, end)
		}

		dtype, err := parseDType(info.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}

		shape := make(tensor.Shape, len(info.Shape))
		for i, dim := range info.Shape {
			shape[i] = int(dim)
		}

		t, err := tensor.FromBytes(shape, dtype, data[start:end])
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		tensors[name] = t
	}

	return &File{metadata: metadata, tensors: tensors}, nil
}

// Metadata returns the free-form metadata map from the header, if any.
func (f *File) Metadata() map[string]string {
	return f.metadata
}

// Keys returns the sorted tensor names in the file.
func (f *File) Keys() []string {
	keys := make([]string, 0, len(f.tensors))
	for name := range f.tensors {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

// Tensor returns the decoded tensor with the given name.
func (f *File) Tensor(name string) (*tensor.RawTensor, error) {
	t, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}
	return t, nil
}

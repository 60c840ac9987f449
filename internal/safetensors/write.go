package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/distml/checkpoint/internal/tensor"
)

// Encode writes the given tensors to w in safetensors format and returns the
// payload byte length per tensor name.
//
// Tensors are written in alphabetical order by name, with contiguous data
// offsets starting at zero. The optional metadata map is stored under the
// "__metadata__" header key.
func Encode(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) (map[string]int64, error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	lengths := make(map[string]int64, len(tensors))
	var offset int64
	for _, name := range names {
		raw := tensors[name]

		dtype, err := dtypeString(raw.DType())
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}

		shape := raw.Shape()
		shapeInt64 := make([]int64, len(shape))
		for i, dim := range shape {
			shapeInt64[i] = int64(dim)
		}

		size := int64(raw.ByteLen())
		header[name] = tensorInfo{
			DType:       dtype,
			Shape:       shapeInt64,
			DataOffsets: [2]int64{offset, offset + size},
		}
		lengths[name] = size
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return nil, fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for _, name := range names {
		if _, err := w.Write(tensors[name].Data()); err != nil {
			return nil, fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}

	return lengths, nil
}

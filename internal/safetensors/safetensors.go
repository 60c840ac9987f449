// Package safetensors encodes and decodes the safetensors container format:
//
//	[8 bytes: header_size (uint64 LE)]
//	[header_size bytes: JSON header]
//	[tensor data: raw bytes]
//
// The JSON header maps tensor names to dtype/shape/data_offsets entries, plus
// an optional free-form "__metadata__" string map.
package safetensors

import (
	"errors"
	"fmt"

	"github.com/distml/checkpoint/internal/tensor"
)

// Suffix is the conventional file extension for safetensors files.
const Suffix = ".safetensors"

// maxHeaderSize bounds header reads to guard against garbage length prefixes.
const maxHeaderSize = 100 * 1024 * 1024

// Format errors.
var (
	ErrHeaderTooSmall  = errors.New("header too small: need at least 8 bytes")
	ErrHeaderTooLarge  = errors.New("header exceeds maximum size")
	ErrHeaderTruncated = errors.New("header length overruns stream")
)

// metadataKey is the reserved header key for free-form metadata.
const metadataKey = "__metadata__"

// tensorInfo describes one tensor entry in the JSON header.
type tensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end], relative to the data section
}

// dtypeString converts a tensor.DataType to its safetensors dtype name.
func dtypeString(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "F32", nil
	case tensor.Float64:
		return "F64", nil
	case tensor.Float16:
		return "F16", nil
	case tensor.BFloat16:
		return "BF16", nil
	case tensor.Int32:
		return "I32", nil
	case tensor.Int64:
		return "I64", nil
	case tensor.Uint8:
		return "U8", nil
	case tensor.Bool:
		return "BOOL", nil
	default:
		return "", fmt.Errorf("unsupported dtype: %s", dt)
	}
}

// parseDType converts a safetensors dtype name to a tensor.DataType.
func parseDType(s string) (tensor.DataType, error) {
	switch s {
	case "F32":
		return tensor.Float32, nil
	case "F64":
		return tensor.Float64, nil
	case "F16":
		return tensor.Float16, nil
	case "BF16":
		return tensor.BFloat16, nil
	case "I32":
		return tensor.Int32, nil
	case "I64":
		return tensor.Int64, nil
	case "U8":
		return tensor.Uint8, nil
	case "BOOL":
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported dtype: %q", s)
	}
}

package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// RawTensor is a shape- and dtype-tagged byte buffer.
//
// The checkpoint layer treats tensor payloads as opaque bytes; RawTensor
// exists so that destinations can be shape-checked, resized and copied into
// without the caller losing its reference to the buffer owner.
type RawTensor struct {
	shape Shape
	dtype DataType
	data  []byte
}

// NewRaw creates a zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		shape: shape.Clone(),
		dtype: dtype,
		data:  make([]byte, shape.NumElements()*dtype.Size()),
	}, nil
}

// FromBytes creates a RawTensor wrapping the given data buffer.
// The buffer length must match the shape and dtype exactly.
func FromBytes(shape Shape, dtype DataType, data []byte) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	want := shape.NumElements() * dtype.Size()
	if len(data) != want {
		return nil, fmt.Errorf("data size mismatch: shape %v with dtype %s needs %d bytes, got %d",
			shape, dtype, want, len(data))
	}

	return &RawTensor{
		shape: shape.Clone(),
		dtype: dtype,
		data:  data,
	}, nil
}

// Shape returns the tensor dimensions.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteLen returns the payload size in bytes.
func (r *RawTensor) ByteLen() int {
	return len(r.data)
}

// Data returns the underlying byte buffer.
func (r *RawTensor) Data() []byte {
	return r.data
}

// Resize changes the tensor's shape in place, reallocating the buffer only
// when the byte size changes. Existing contents are not preserved across a
// reallocation.
func (r *RawTensor) Resize(shape Shape) error {
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("invalid shape: %w", err)
	}
	want := shape.NumElements() * r.dtype.Size()
	if want != len(r.data) {
		r.data = make([]byte, want)
	}
	r.shape = shape.Clone()
	return nil
}

// CopyFrom copies src's payload into r. This is a value copy: r keeps its
// identity, so callers holding a reference to r observe the new contents.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if r.dtype != src.dtype {
		return fmt.Errorf("dtype mismatch: %s != %s", r.dtype, src.dtype)
	}
	if len(r.data) != len(src.data) {
		return fmt.Errorf("size mismatch: %d bytes != %d bytes", len(r.data), len(src.data))
	}
	copy(r.data, src.data)
	return nil
}

// AsFloat32 reinterprets the buffer as []float32. Panics if the dtype is not
// Float32; use Float32Values for converting access.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic("AsFloat32 called on non-float32 tensor")
	}
	out := make([]float32, r.NumElements())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.data[i*4:]))
	}
	return out
}

// SetFloat32 stores the given values into a Float32 tensor's buffer.
func (r *RawTensor) SetFloat32(values []float32) error {
	if r.dtype != Float32 {
		return fmt.Errorf("SetFloat32 on %s tensor", r.dtype)
	}
	if len(values) != r.NumElements() {
		return fmt.Errorf("value count mismatch: %d != %d", len(values), r.NumElements())
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(r.data[i*4:], math.Float32bits(v))
	}
	return nil
}

// Float32Values decodes the payload to float32, converting half-precision
// formats. Supported dtypes: Float32, Float64, Float16, BFloat16.
func (r *RawTensor) Float32Values() ([]float32, error) {
	n := r.NumElements()
	out := make([]float32, n)

	switch r.dtype {
	case Float32:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.data[i*4:]))
		}
	case Float64:
		for i := 0; i < n; i++ {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(r.data[i*8:])))
		}
	case Float16:
		for i := 0; i < n; i++ {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(r.data[i*2:])).Float32()
		}
	case BFloat16:
		return bfloat16.DecodeFloat32(r.data), nil
	default:
		return nil, fmt.Errorf("cannot convert %s tensor to float32", r.dtype)
	}

	return out, nil
}

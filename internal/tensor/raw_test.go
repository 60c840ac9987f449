package tensor

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestNewRaw(t *testing.T) {
	r, err := NewRaw(Shape{2, 3}, Float32)
	require.NoError(t, err)

	assert.Equal(t, Shape{2, 3}, r.Shape())
	assert.Equal(t, Float32, r.DType())
	assert.Equal(t, 6, r.NumElements())
	assert.Equal(t, 24, r.ByteLen())
}

func TestNewRaw_InvalidShape(t *testing.T) {
	_, err := NewRaw(Shape{2, 0}, Float32)
	require.Error(t, err)
}

func TestFromBytes_SizeMismatch(t *testing.T) {
	_, err := FromBytes(Shape{2, 2}, Float32, make([]byte, 15))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs 16 bytes")
}

func TestResize(t *testing.T) {
	r, err := NewRaw(Shape{2, 3}, Float32)
	require.NoError(t, err)

	// Same byte size keeps the buffer.
	buf := r.Data()
	require.NoError(t, r.Resize(Shape{3, 2}))
	assert.Equal(t, Shape{3, 2}, r.Shape())
	assert.Same(t, &buf[0], &r.Data()[0])

	// Different byte size reallocates.
	require.NoError(t, r.Resize(Shape{4, 4}))
	assert.Equal(t, 64, r.ByteLen())
}

func TestCopyFrom_PreservesIdentity(t *testing.T) {
	src, err := NewRaw(Shape{4}, Float32)
	require.NoError(t, err)
	require.NoError(t, src.SetFloat32([]float32{1, 2, 3, 4}))

	dst, err := NewRaw(Shape{4}, Float32)
	require.NoError(t, err)

	// A caller-held view of the destination buffer must observe the copy.
	view := dst.Data()

	require.NoError(t, dst.CopyFrom(src))
	assert.Equal(t, []float32{1, 2, 3, 4}, dst.AsFloat32())
	assert.Equal(t, src.Data(), view)
}

func TestCopyFrom_Mismatch(t *testing.T) {
	src, err := NewRaw(Shape{4}, Float32)
	require.NoError(t, err)

	wrongType, err := NewRaw(Shape{4}, Int32)
	require.NoError(t, err)
	assert.Error(t, wrongType.CopyFrom(src))

	wrongSize, err := NewRaw(Shape{5}, Float32)
	require.NoError(t, err)
	assert.Error(t, wrongSize.CopyFrom(src))
}

func TestFloat32Values_Float16(t *testing.T) {
	want := []float32{0.5, -1.5, 2.0}

	data := make([]byte, len(want)*2)
	for i, v := range want {
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
	}

	r, err := FromBytes(Shape{3}, Float16, data)
	require.NoError(t, err)

	got, err := r.Float32Values()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFloat32Values_UnsupportedDType(t *testing.T) {
	r, err := NewRaw(Shape{2}, Int64)
	require.NoError(t, err)

	_, err = r.Float32Values()
	require.Error(t, err)
}

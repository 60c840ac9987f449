// Package checkpoint persists a distributed, sharded in-memory tensor
// collection into a directory of safetensors files following the HuggingFace
// checkpoint convention, and reads such a directory back into caller-owned
// destination tensors.
//
// The package exposes two manifest-coupled coordinators. The Writer assigns
// each planned item to a file, names the files canonically, and aggregates
// all processes' results into the model.safetensors.index.json manifest. The
// Reader resolves that manifest (or, for single-file checkpoints saved by
// third-party tools, the file's own header), groups read requests per file,
// and copies each item into its destination with shape checking.
//
// Save flow, with the planning protocol and result broadcast supplied by the
// caller:
//
//	w, _ := checkpoint.NewWriter(dir)
//	plans = w.PrepareGlobalPlans(plans)          // coordinating process
//	fut := w.WriteData(ctx, plans[rank])         // every process
//	results, err := fut.Wait(ctx)
//	err = w.Finish(allResults)                   // coordinating process
//
// Load flow:
//
//	r, _ := checkpoint.NewReader(dir)
//	md, err := r.ReadMetadata()
//	_, err = r.ReadData(ctx, loadPlan, planner).Wait(ctx)
package checkpoint

import (
	"github.com/distml/checkpoint/internal/fsys"
	"github.com/distml/checkpoint/internal/hfstore"
	"github.com/distml/checkpoint/internal/plan"
	"github.com/distml/checkpoint/internal/tensor"
)

// Coordinator types.
type (
	// Writer coordinates saving a distributed checkpoint.
	Writer = hfstore.Writer
	// WriterOption configures a Writer.
	WriterOption = hfstore.WriterOption
	// Reader coordinates loading a checkpoint directory.
	Reader = hfstore.Reader
	// ReaderOption configures a Reader.
	ReaderOption = hfstore.ReaderOption
	// Metadata is the resolved item-to-file mapping for a load.
	Metadata = hfstore.Metadata
	// Manifest is the on-disk checkpoint index.
	Manifest = hfstore.Manifest
)

// Plan types, produced by the external planning layer.
type (
	// WriteItem is a request to persist one named tensor.
	WriteItem = plan.WriteItem
	// SavePlan is one process's ordered write requests.
	SavePlan = plan.SavePlan
	// StorageData carries the writer's placement decisions on a plan.
	StorageData = plan.StorageData
	// WriteResult records one written item.
	WriteResult = plan.WriteResult
	// ReadItem is a request to load one named item.
	ReadItem = plan.ReadItem
	// LoadPlan is one process's ordered read requests.
	LoadPlan = plan.LoadPlan
	// LoadPlanner resolves and commits destination tensors.
	LoadPlanner = plan.LoadPlanner
)

// Tensor types.
type (
	// RawTensor is a shape- and dtype-tagged byte buffer.
	RawTensor = tensor.RawTensor
	// Shape is a tensor's dimensions.
	Shape = tensor.Shape
	// DataType is a tensor's element type.
	DataType = tensor.DataType
)

// Data type constants.
const (
	Float32  DataType = tensor.Float32
	Float64  DataType = tensor.Float64
	Float16  DataType = tensor.Float16
	BFloat16 DataType = tensor.BFloat16
	Int32    DataType = tensor.Int32
	Int64    DataType = tensor.Int64
	Uint8    DataType = tensor.Uint8
	Bool     DataType = tensor.Bool
)

// FS is the byte store a checkpoint directory lives in.
type FS = fsys.FS

// MetadataFilename is the well-known manifest file name.
const MetadataFilename = hfstore.MetadataFilename

// Coordinator errors.
var (
	ErrUnmappedFQN         = hfstore.ErrUnmappedFQN
	ErrAmbiguousCheckpoint = hfstore.ErrAmbiguousCheckpoint
	ErrShapeMismatch       = hfstore.ErrShapeMismatch
)

// NewWriter creates a writer for the checkpoint directory at path.
func NewWriter(path string, opts ...WriterOption) (*Writer, error) {
	return hfstore.NewWriter(path, opts...)
}

// NewReader creates a reader for the checkpoint directory at path.
func NewReader(path string, opts ...ReaderOption) (*Reader, error) {
	return hfstore.NewReader(path, opts...)
}

// Writer options.
var (
	WithIndexMapping  = hfstore.WithIndexMapping
	WithShardedOutput = hfstore.WithShardedOutput
	WithWriterToken   = hfstore.WithWriterToken
	WithWriterFS      = hfstore.WithWriterFS
	WithWriterLogger  = hfstore.WithWriterLogger
)

// Reader options.
var (
	WithReaderToken  = hfstore.WithReaderToken
	WithReaderFS     = hfstore.WithReaderFS
	WithReaderLogger = hfstore.WithReaderLogger
)

// NewTensor creates a zero-filled destination tensor.
func NewTensor(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// TensorFromBytes wraps an existing payload buffer as a tensor.
func TensorFromBytes(shape Shape, dtype DataType, data []byte) (*RawTensor, error) {
	return tensor.FromBytes(shape, dtype, data)
}

// ReadManifest parses the manifest of the checkpoint directory at path.
func ReadManifest(path string) (*Manifest, error) {
	fs, err := fsys.Resolve(path, fsys.Options{})
	if err != nil {
		return nil, err
	}
	return hfstore.ReadManifest(fs)
}

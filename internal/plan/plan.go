// Package plan defines the save/load plan types exchanged between the
// external planning layer and the storage coordinators. Plans arrive
// finalized; the coordinators only annotate them with their own placement
// decisions and execute them.
package plan

import "github.com/distml/checkpoint/internal/tensor"

// WriteItem is a request to persist one named tensor. The coordinator treats
// it as read-only.
type WriteItem struct {
	// FQN is the fully-qualified tensor name within the checkpoint.
	FQN string
	// Tensor carries the payload for the codec to serialize.
	Tensor *tensor.RawTensor
}

// StorageData carries the write coordinator's placement decisions from the
// global planning phase into per-process execution. It is attached exactly
// once, during global planning, and never mutated afterwards.
type StorageData struct {
	// IndexMapping maps FQN to a 1-based target file index. Nil means all
	// items of a plan share one file.
	IndexMapping map[string]int
	// ShardIndex is the plan's 1-based position among all plans when sharded
	// output is enabled; zero otherwise.
	ShardIndex int
}

// SavePlan is one process's ordered sequence of write requests.
type SavePlan struct {
	Items []WriteItem

	storage *StorageData
}

// WithStorageData returns a copy of the plan carrying the given placement
// decisions. The receiver is left untouched.
func (p SavePlan) WithStorageData(sd StorageData) SavePlan {
	p.storage = &sd
	return p
}

// StorageData returns the placement decisions attached during global
// planning, or the zero value if planning has not run.
func (p SavePlan) StorageData() StorageData {
	if p.storage == nil {
		return StorageData{}
	}
	return *p.storage
}

// WriteResult records one successfully written item.
type WriteResult struct {
	// FQN is the written item's name.
	FQN string
	// RelativePath is the file the item landed in, relative to the
	// checkpoint directory.
	RelativePath string
	// Length is the item's payload size in bytes.
	Length int64
}

// ReadItem is a request to retrieve one named item into a caller-owned
// destination tensor. SourceFQN locates the bytes; DestFQN names the
// destination and may differ from the source on resize-tolerant loads.
type ReadItem struct {
	SourceFQN string
	DestFQN   string
}

// LoadPlan is one process's ordered sequence of read requests.
type LoadPlan struct {
	Items []ReadItem
}

// LoadPlanner produces and validates destination tensors for a load. It is
// the read coordinator's window into caller-owned state. The coordinator may
// process file groups concurrently, but it serializes all calls into the
// planner, so implementations need no internal locking.
type LoadPlanner interface {
	// ResolveTensor returns the destination tensor for item.
	ResolveTensor(item ReadItem) (*tensor.RawTensor, error)
	// CommitTensor tells the planner the destination holds the loaded data.
	CommitTensor(item ReadItem, dst *tensor.RawTensor) error
	// AllowResize reports whether destinations may be resized to the source
	// shape instead of requiring exact shape equality.
	AllowResize() bool
}

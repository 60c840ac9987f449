// Package hfstore implements the storage coordinators for HuggingFace-style
// safetensors checkpoints. The write coordinator assigns planned items to
// files, names the files, and aggregates an index manifest; the read
// coordinator resolves the manifest (or a single file's header) and batches
// item reads per file.
//
// The planning protocol that decides which process writes which items, and
// the byte store the files live in, are external collaborators: plans arrive
// finalized via package plan, and all I/O goes through fsys.FS.
package hfstore

import (
	"errors"
	"fmt"

	"github.com/distml/checkpoint/internal/safetensors"
)

// MetadataFilename is the well-known manifest file name inside a checkpoint
// directory.
const MetadataFilename = "model.safetensors.index.json"

// Coordinator errors.
var (
	// ErrUnmappedFQN reports an item whose name is absent from an explicit
	// file index mapping. This is a malformed plan, not a recoverable
	// condition.
	ErrUnmappedFQN = errors.New("item missing from file index mapping")
	// ErrAmbiguousCheckpoint reports a directory that cannot be loaded
	// without a manifest because it does not contain exactly one
	// safetensors file.
	ErrAmbiguousCheckpoint = errors.New("cannot resolve items without an index manifest")
	// ErrShapeMismatch reports a destination tensor whose shape disagrees
	// with the stored source.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
)

// fileName builds the canonical name for one checkpoint file. index is the
// file's 1-based index, highestIndex the largest index of the save (so all
// files of a save share the same name-length convention), and shardIndex the
// 1-based process shard when sharded output is enabled, zero otherwise. All
// numbers are zero-padded to width 5.
func fileName(index, highestIndex, shardIndex int) string {
	if shardIndex > 0 {
		return fmt.Sprintf("shard-%05d-model-%05d-of-%05d%s",
			shardIndex, index, highestIndex, safetensors.Suffix)
	}
	return fmt.Sprintf("model-%05d-of-%05d%s", index, highestIndex, safetensors.Suffix)
}

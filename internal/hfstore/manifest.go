package hfstore

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/distml/checkpoint/internal/fsys"
)

// Manifest is the on-disk index of a non-sharded checkpoint: which file each
// tensor lives in, and the checkpoint's total payload size.
type Manifest struct {
	Metadata  ManifestMetadata  `json:"metadata"`
	WeightMap map[string]string `json:"weight_map"`
}

// ManifestMetadata holds checkpoint-level numbers.
type ManifestMetadata struct {
	TotalSize int64 `json:"total_size"`
}

// writeManifest stores m as pretty-printed JSON under the well-known
// manifest name. Rewriting an existing manifest with the same content is
// fine; retried saves do exactly that.
func writeManifest(fs fsys.FS, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	w, err := fs.Create(MetadataFilename)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return w.Close()
}

// ReadManifest parses the well-known manifest file from the store.
func ReadManifest(fs fsys.FS) (*Manifest, error) {
	r, err := fs.Open(MetadataFilename)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

package hfstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/distml/checkpoint/internal/fsys"
	"github.com/distml/checkpoint/internal/future"
	"github.com/distml/checkpoint/internal/plan"
	"github.com/distml/checkpoint/internal/safetensors"
)

// Metadata is the resolved read-side view of a checkpoint: which file each
// item lives in. Tensor payloads are opaque at this level; shape and dtype
// come from the codec when the file is actually read.
type Metadata struct {
	// WeightMap maps item FQN to its containing file's relative name.
	WeightMap map[string]string
	// LoadID identifies one load operation for traceability.
	LoadID uuid.UUID
}

// Reader coordinates loading a safetensors checkpoint directory into
// caller-owned destination tensors.
type Reader struct {
	path   string
	token  string
	fs     fsys.FS
	logger *slog.Logger

	// weightMap is set by ReadMetadata and reused for the whole load.
	weightMap map[string]string
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithReaderToken sets the access credential forwarded to the byte store.
func WithReaderToken(token string) ReaderOption {
	return func(r *Reader) { r.token = token }
}

// WithReaderFS injects the byte store, bypassing path resolution.
func WithReaderFS(fs fsys.FS) ReaderOption {
	return func(r *Reader) { r.fs = fs }
}

// WithReaderLogger sets the logger. Defaults to slog.Default().
func WithReaderLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) { r.logger = logger }
}

// NewReader creates a reader for the checkpoint directory at path.
func NewReader(path string, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{path: path}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.fs == nil {
		fs, err := fsys.Resolve(path, fsys.Options{Token: r.token})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve store for %s: %w", path, err)
		}
		r.fs = fs
	}
	return r, nil
}

// ReadMetadata resolves the item-to-file mapping for the checkpoint. The
// manifest is authoritative when present. Without one, the directory must
// contain exactly one safetensors file, whose header keys become the item
// set. The mapping is retained on the reader for the subsequent ReadData
// calls and returned with a fresh load identifier.
func (r *Reader) ReadMetadata() (*Metadata, error) {
	exists, err := r.fs.Exists(MetadataFilename)
	if err != nil {
		return nil, err
	}

	var weightMap map[string]string
	if exists {
		manifest, err := ReadManifest(r.fs)
		if err != nil {
			return nil, err
		}
		weightMap = manifest.WeightMap
	} else {
		weightMap, err = r.scanSingleFile()
		if err != nil {
			return nil, err
		}
	}

	r.weightMap = weightMap
	return &Metadata{WeightMap: weightMap, LoadID: uuid.New()}, nil
}

// scanSingleFile handles the manifest-less fallback: exactly one safetensors
// file whose header keys map every item to that file.
func (r *Reader) scanSingleFile() (map[string]string, error) {
	names, err := r.fs.List()
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, name := range names {
		if strings.HasSuffix(name, safetensors.Suffix) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) != 1 {
		return nil, fmt.Errorf("%w: need exactly one safetensors file, found %d",
			ErrAmbiguousCheckpoint, len(candidates))
	}

	stream, err := r.fs.Open(candidates[0])
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	keys, err := safetensors.ScanKeys(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", candidates[0], err)
	}

	weightMap := make(map[string]string, len(keys))
	for _, key := range keys {
		weightMap[key] = candidates[0]
	}

	r.logger.Debug("no manifest, resolved from single file",
		"path", r.path, "file", candidates[0], "items", len(keys))
	return weightMap, nil
}

// ReadData executes a load plan against the resolved metadata. Items are
// grouped by containing file so each file is opened and decoded exactly
// once; groups run concurrently, with all calls into the shared planner
// serialized under one mutex. The returned future resolves once every item
// is copied into its destination, or fails with the first error.
func (r *Reader) ReadData(ctx context.Context, lp plan.LoadPlan, planner plan.LoadPlanner) *future.Future[struct{}] {
	if r.weightMap == nil {
		return future.Failed[struct{}](fmt.Errorf("read metadata not resolved: call ReadMetadata first"))
	}

	perFile := make(map[string][]plan.ReadItem)
	for _, item := range lp.Items {
		name, ok := r.weightMap[item.SourceFQN]
		if !ok {
			return future.Failed[struct{}](fmt.Errorf("no file recorded for item %q", item.SourceFQN))
		}
		perFile[name] = append(perFile[name], item)
	}

	fut := future.New[struct{}]()
	go func() {
		g, _ := errgroup.WithContext(ctx)

		// The planner is shared mutable state across file groups.
		var plannerMu sync.Mutex
		for name, items := range perFile {
			g.Go(func() error {
				return r.readFile(name, items, planner, &plannerMu)
			})
		}
		if err := g.Wait(); err != nil {
			fut.Fail(err)
			return
		}
		fut.Resolve(struct{}{})
	}()
	return fut
}

// readFile decodes one file and copies every requested item into its
// destination tensor. plannerMu guards every call into the planner;
// destination buffers themselves never alias across items because item names
// are unique per load plan.
func (r *Reader) readFile(name string, items []plan.ReadItem, planner plan.LoadPlanner, plannerMu *sync.Mutex) error {
	stream, err := r.fs.Open(name)
	if err != nil {
		return err
	}
	file, err := safetensors.Decode(stream)
	_ = stream.Close()
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}

	for _, item := range items {
		src, err := file.Tensor(item.SourceFQN)
		if err != nil {
			return fmt.Errorf("file %s: %w", name, err)
		}

		plannerMu.Lock()
		dst, err := planner.ResolveTensor(item)
		plannerMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to resolve destination for %q: %w", item.DestFQN, err)
		}

		if planner.AllowResize() {
			if err := dst.Resize(src.Shape()); err != nil {
				return fmt.Errorf("failed to resize destination for %q: %w", item.DestFQN, err)
			}
		} else if !dst.Shape().Equal(src.Shape()) {
			return fmt.Errorf("%w for %q: destination %v != source %v",
				ErrShapeMismatch, item.DestFQN, dst.Shape(), src.Shape())
		}

		// Value copy: the destination keeps its identity for callers
		// holding references to it.
		if err := dst.CopyFrom(src); err != nil {
			return fmt.Errorf("failed to copy %q: %w", item.DestFQN, err)
		}

		plannerMu.Lock()
		err = planner.CommitTensor(item, dst)
		plannerMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to commit %q: %w", item.DestFQN, err)
		}
	}

	r.logger.Debug("read checkpoint file", "file", name, "items", len(items))
	return nil
}

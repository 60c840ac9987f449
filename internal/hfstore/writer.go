package hfstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/distml/checkpoint/internal/fsys"
	"github.com/distml/checkpoint/internal/future"
	"github.com/distml/checkpoint/internal/plan"
	"github.com/distml/checkpoint/internal/safetensors"
	"github.com/distml/checkpoint/internal/tensor"
)

// Writer coordinates saving a distributed checkpoint into a directory of
// safetensors files plus an index manifest.
type Writer struct {
	path    string
	token   string
	fs      fsys.FS
	mapping map[string]int
	sharded bool
	logger  *slog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithIndexMapping routes each named item to the 1-based file index it maps
// to. Every planned item must appear in the mapping. Without a mapping, all
// items of one process share a single file.
func WithIndexMapping(mapping map[string]int) WriterOption {
	return func(w *Writer) { w.mapping = mapping }
}

// WithShardedOutput makes every process save its own shard. No manifest is
// written; reconciling shards is left to outside tooling.
func WithShardedOutput() WriterOption {
	return func(w *Writer) { w.sharded = true }
}

// WithWriterToken sets the access credential forwarded to the byte store.
func WithWriterToken(token string) WriterOption {
	return func(w *Writer) { w.token = token }
}

// WithWriterFS injects the byte store, bypassing path resolution.
func WithWriterFS(fs fsys.FS) WriterOption {
	return func(w *Writer) { w.fs = fs }
}

// WithWriterLogger sets the logger. Defaults to slog.Default().
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = logger }
}

// NewWriter creates a writer for the checkpoint directory at path.
func NewWriter(path string, opts ...WriterOption) (*Writer, error) {
	w := &Writer{path: path}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.fs == nil {
		fs, err := fsys.Resolve(path, fsys.Options{Token: w.token})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve store for %s: %w", path, err)
		}
		w.fs = fs
	}
	return w, nil
}

// PrepareGlobalPlans annotates every process's plan with the writer's
// placement decisions: the file index mapping, verbatim, and a 1-based shard
// index when sharded output is enabled. Pure and deterministic; runs once on
// the coordinating process before any write executes.
func (w *Writer) PrepareGlobalPlans(plans []plan.SavePlan) []plan.SavePlan {
	annotated := make([]plan.SavePlan, len(plans))
	for i, p := range plans {
		sd := plan.StorageData{IndexMapping: w.mapping}
		if w.sharded {
			sd.ShardIndex = i + 1
		}
		annotated[i] = p.WithStorageData(sd)
	}
	return annotated
}

// WriteData executes one process's annotated plan. Items are bucketed by
// target file index, each bucket is serialized to its own file, and the
// returned future resolves with one WriteResult per item once every file is
// written. A plan with no items resolves immediately and creates no file.
func (w *Writer) WriteData(ctx context.Context, p plan.SavePlan) *future.Future[[]plan.WriteResult] {
	if len(p.Items) == 0 {
		return future.Resolved([]plan.WriteResult{})
	}

	sd := p.StorageData()

	buckets, err := splitByIndex(sd.IndexMapping, p.Items)
	if err != nil {
		return future.Failed[[]plan.WriteResult](err)
	}

	highest := 1
	for _, idx := range sd.IndexMapping {
		if idx > highest {
			highest = idx
		}
	}

	fut := future.New[[]plan.WriteResult]()
	go func() {
		g, _ := errgroup.WithContext(ctx)

		var mu sync.Mutex
		results := make([]plan.WriteResult, 0, len(p.Items))

		for index, items := range buckets {
			name := fileName(index, highest, sd.ShardIndex)
			g.Go(func() error {
				rs, err := w.writeFile(name, items)
				if err != nil {
					return err
				}
				mu.Lock()
				results = append(results, rs...)
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			fut.Fail(err)
			return
		}
		fut.Resolve(results)
	}()
	return fut
}

// Finish aggregates every process's write results into the index manifest.
// In sharded mode no manifest is written; each shard stands on its own until
// outside tooling reconciles them.
func (w *Writer) Finish(results [][]plan.WriteResult) error {
	if w.sharded {
		w.logger.Debug("sharded save, skipping manifest", "path", w.path)
		return nil
	}

	manifest := &Manifest{WeightMap: make(map[string]string)}
	for _, wrList := range results {
		for _, wr := range wrList {
			manifest.WeightMap[wr.FQN] = wr.RelativePath
			manifest.Metadata.TotalSize += wr.Length
		}
	}

	if err := writeManifest(w.fs, manifest); err != nil {
		return err
	}
	w.logger.Debug("manifest written",
		"path", w.path,
		"items", len(manifest.WeightMap),
		"total_size", manifest.Metadata.TotalSize)
	return nil
}

// writeFile serializes one bucket of items into the named file.
func (w *Writer) writeFile(name string, items []plan.WriteItem) ([]plan.WriteResult, error) {
	tensors := make(map[string]*tensor.RawTensor, len(items))
	for _, item := range items {
		tensors[item.FQN] = item.Tensor
	}

	stream, err := w.fs.Create(name)
	if err != nil {
		return nil, err
	}

	lengths, err := safetensors.Encode(stream, tensors, nil)
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to serialize %s: %w", name, err)
	}
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", name, err)
	}

	results := make([]plan.WriteResult, 0, len(items))
	for _, item := range items {
		results = append(results, plan.WriteResult{
			FQN:          item.FQN,
			RelativePath: name,
			Length:       lengths[item.FQN],
		})
	}

	w.logger.Debug("wrote checkpoint file", "file", name, "items", len(items))
	return results, nil
}

// splitByIndex buckets items by their target file index. Without a mapping,
// all items share bucket 1. An item absent from an explicit mapping fails
// the whole plan.
func splitByIndex(mapping map[string]int, items []plan.WriteItem) (map[int][]plan.WriteItem, error) {
	if mapping == nil {
		return map[int][]plan.WriteItem{1: items}, nil
	}

	buckets := make(map[int][]plan.WriteItem)
	for _, item := range items {
		index, ok := mapping[item.FQN]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnmappedFQN, item.FQN)
		}
		buckets[index] = append(buckets[index], item)
	}
	return buckets, nil
}

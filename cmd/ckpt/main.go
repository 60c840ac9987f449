// Command ckpt inspects and verifies safetensors checkpoint directories.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/distml/checkpoint"
	"github.com/distml/checkpoint/internal/fsys"
	"github.com/distml/checkpoint/internal/hfstore"
	"github.com/distml/checkpoint/internal/safetensors"
)

func main() {
	root := &cobra.Command{
		Use:           "ckpt",
		Short:         "Inspect and verify safetensors checkpoint directories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var token string
	root.PersistentFlags().StringVar(&token, "token", "", "access token for remote checkpoint stores")

	root.AddCommand(inspectCmd(&token), keysCmd(&token), verifyCmd(&token))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// storeFor resolves the byte store every command reads through, metadata and
// payloads alike.
func storeFor(dir, token string) (checkpoint.FS, error) {
	return fsys.Resolve(dir, fsys.Options{Token: token})
}

// metadataFor resolves the store and the checkpoint's item-to-file mapping.
func metadataFor(dir, token string) (checkpoint.FS, *checkpoint.Metadata, error) {
	fs, err := storeFor(dir, token)
	if err != nil {
		return nil, nil, err
	}
	r, err := checkpoint.NewReader(dir, checkpoint.WithReaderFS(fs))
	if err != nil {
		return nil, nil, err
	}
	md, err := r.ReadMetadata()
	if err != nil {
		return nil, nil, err
	}
	return fs, md, nil
}

// groupByFile inverts a weight map into file → sorted FQNs.
func groupByFile(weightMap map[string]string) map[string][]string {
	perFile := make(map[string][]string)
	for fqn, file := range weightMap {
		perFile[file] = append(perFile[file], fqn)
	}
	for _, fqns := range perFile {
		sort.Strings(fqns)
	}
	return perFile
}

func sortedFiles(perFile map[string][]string) []string {
	files := make([]string, 0, len(perFile))
	for file := range perFile {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

func inspectCmd(token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <checkpoint-dir>",
		Short: "Summarize a checkpoint: files, items, total size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			out := cmd.OutOrStdout()

			fs, md, err := metadataFor(dir, *token)
			if err != nil {
				return err
			}
			perFile := groupByFile(md.WeightMap)

			fmt.Fprintf(out, "checkpoint: %s\n", dir)
			fmt.Fprintf(out, "items:      %d\n", len(md.WeightMap))
			fmt.Fprintf(out, "files:      %d\n", len(perFile))

			if m, err := hfstore.ReadManifest(fs); err == nil {
				fmt.Fprintf(out, "total size: %d bytes\n", m.Metadata.TotalSize)
			} else {
				fmt.Fprintln(out, "total size: unknown (no manifest)")
			}

			for _, file := range sortedFiles(perFile) {
				fmt.Fprintf(out, "  %s: %d items\n", file, len(perFile[file]))
			}
			return nil
		},
	}
}

func keysCmd(token *string) *cobra.Command {
	var stats bool

	cmd := &cobra.Command{
		Use:   "keys <checkpoint-dir>",
		Short: "List tensor names with dtype and shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, md, err := metadataFor(args[0], *token)
			if err != nil {
				return err
			}
			return printKeys(cmd.OutOrStdout(), fs, md.WeightMap, stats)
		},
	}

	cmd.Flags().BoolVar(&stats, "stats", false, "print min/max for float tensors")
	return cmd
}

// printKeys decodes each referenced file once through the store and lists
// every item it holds.
func printKeys(out io.Writer, fs checkpoint.FS, weightMap map[string]string, stats bool) error {
	perFile := groupByFile(weightMap)

	for _, file := range sortedFiles(perFile) {
		stream, err := fs.Open(file)
		if err != nil {
			return err
		}
		decoded, err := safetensors.Decode(stream)
		_ = stream.Close()
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", file, err)
		}

		for _, fqn := range perFile[file] {
			t, err := decoded.Tensor(fqn)
			if err != nil {
				return fmt.Errorf("file %s: %w", file, err)
			}

			line := fmt.Sprintf("%s\t%s\t%v\t%s", fqn, t.DType(), t.Shape(), file)
			if stats {
				if values, err := t.Float32Values(); err == nil && len(values) > 0 {
					minV, maxV := values[0], values[0]
					for _, v := range values[1:] {
						minV = min(minV, v)
						maxV = max(maxV, v)
					}
					line += fmt.Sprintf("\tmin=%g max=%g", minV, maxV)
				}
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

func verifyCmd(token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <checkpoint-dir>",
		Short: "Cross-check the manifest against the files it references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := storeFor(args[0], *token)
			if err != nil {
				return err
			}
			m, err := hfstore.ReadManifest(fs)
			if err != nil {
				return fmt.Errorf("failed to read manifest: %w", err)
			}

			problems := verifyManifest(cmd.OutOrStdout(), fs, m)
			if problems > 0 {
				return fmt.Errorf("%d problem(s) found", problems)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d items across manifest verified\n", len(m.WeightMap))
			return nil
		},
	}
}

// verifyManifest checks that every weight_map entry's file exists in the
// store and contains the entry's key, reporting each problem to out.
func verifyManifest(out io.Writer, fs checkpoint.FS, m *checkpoint.Manifest) int {
	var problems int
	for _, file := range sortedFiles(groupByFile(m.WeightMap)) {
		stream, err := fs.Open(file)
		if err != nil {
			fmt.Fprintf(out, "MISSING %s\n", file)
			problems++
			continue
		}
		keys, err := safetensors.ScanKeys(stream)
		_ = stream.Close()
		if err != nil {
			fmt.Fprintf(out, "BAD     %s: %v\n", file, err)
			problems++
			continue
		}

		present := make(map[string]bool, len(keys))
		for _, key := range keys {
			present[key] = true
		}
		for fqn, mapped := range m.WeightMap {
			if mapped == file && !present[fqn] {
				fmt.Fprintf(out, "ABSENT  %s (expected in %s)\n", fqn, file)
				problems++
			}
		}
	}
	return problems
}

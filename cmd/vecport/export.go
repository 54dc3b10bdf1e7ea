package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/pipeline"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a collection into a dataset directory",
}

func init() {
	for _, vendor := range []string{"pinecone", "weaviate", "qdrant"} {
		vendor := vendor
		exportCmd.AddCommand(&cobra.Command{
			Use:   vendor,
			Short: "Export from a " + vendor + " deployment",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runExport(cmd.Context(), vendor)
			},
		})
	}
}

func runExport(ctx context.Context, vendor string) error {
	collection := flagCollection
	if collection == "" {
		var err error
		collection, err = promptLine(`collection to export ("all" for every collection): `)
		if err != nil {
			return err
		}
	}
	dir := flagDir
	if dir == "" {
		dir = "./vdf_" + collection
	}

	if collection == "all" {
		return exportAll(ctx, vendor, dir)
	}

	params, err := vendorParams(vendor, collection)
	if err != nil {
		return err
	}
	src := newSource(vendor)
	defer src.Close()

	summary, err := pipeline.Export(ctx, src, dir, params, pipelineOptions(vendor), logger)
	exitCode = pipeline.ExitCode(summary, err)
	printSummary("export", summary)
	return err
}

// exportAll enumerates collections and exports each into its own
// subdirectory, a few in flight at a time.
func exportAll(ctx context.Context, vendor, baseDir string) error {
	params, err := vendorParams(vendor, "")
	if err != nil {
		return err
	}
	params.Timeout = callTimeout()

	lister, ok := newSource(vendor).(adapter.Lister)
	if !ok {
		return fmt.Errorf("vendor %q cannot enumerate collections", vendor)
	}
	names, err := lister.ListCollections(ctx, params)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no collections found")
	}
	logger.Info("exporting all collections",
		zap.String("vendor", vendor), zap.Int("count", len(names)))

	var mu sync.Mutex
	worst := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for _, name := range names {
		name := name
		g.Go(func() error {
			params, err := vendorParams(vendor, name)
			if err != nil {
				return err
			}
			src := newSource(vendor)
			defer src.Close()

			dir := filepath.Join(baseDir, name)
			summary, err := pipeline.Export(gctx, src, dir, params, pipelineOptions(vendor), logger)
			code := pipeline.ExitCode(summary, err)
			mu.Lock()
			if code > worst {
				worst = code
			}
			mu.Unlock()
			printSummary("export "+name, summary)
			return err
		})
	}
	err = g.Wait()
	exitCode = worst
	return err
}

func printSummary(op string, s *pipeline.Summary) {
	if s == nil {
		return
	}
	status := "completed"
	if !s.Completed {
		status = "interrupted"
	}
	fmt.Printf("%s %s: %d records, %d skipped, %d batches retried (%s)\n",
		op, status, s.Records, len(s.Skipped), s.BatchesRetried, s.Dataset)
	for _, f := range s.Skipped {
		fmt.Printf("  skipped %s: %v\n", f.ID, f.Err)
	}
}

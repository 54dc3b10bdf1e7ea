package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vecport/vecport/internal/pipeline"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Replay a dataset directory into a collection",
}

func init() {
	for _, vendor := range []string{"pinecone", "weaviate", "qdrant"} {
		vendor := vendor
		importCmd.AddCommand(&cobra.Command{
			Use:   vendor,
			Short: "Import into a " + vendor + " deployment",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runImport(cmd.Context(), vendor)
			},
		})
	}
}

func runImport(ctx context.Context, vendor string) error {
	if flagDir == "" {
		return fmt.Errorf("--dir is required")
	}
	collection := flagCollection
	if collection == "" {
		var err error
		collection, err = promptLine("target collection: ")
		if err != nil {
			return err
		}
	}

	params, err := vendorParams(vendor, collection)
	if err != nil {
		return err
	}
	snk := newSink(vendor)
	defer snk.Close()

	summary, err := pipeline.Import(ctx, snk, flagDir, params, pipelineOptions(vendor), logger)
	exitCode = pipeline.ExitCode(summary, err)
	printSummary("import", summary)
	return err
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vecport/vecport/internal/inspect"
)

var flagQuery string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize a dataset or run SQL over its vectors",
	Long: `Without --query, prints the dataset's schema, counts and run history.
With --query, runs the SQL against a "vectors" view over all chunk files
and prints the resulting Arrow batches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDir == "" {
			return fmt.Errorf("--dir is required")
		}
		ins := inspect.New(flagDir)

		if flagQuery != "" {
			rdr, cleanup, err := ins.Query(cmd.Context(), flagQuery)
			if err != nil {
				return err
			}
			defer cleanup()
			for rdr.Next() {
				fmt.Println(rdr.Record())
			}
			return rdr.Err()
		}

		sum, err := ins.Summarize(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("dataset %s\n", sum.Dir)
		fmt.Printf("  dimensionality: %d\n", sum.Dimensionality)
		fmt.Printf("  records: %d  relations: %d  chunks: %d\n",
			sum.Records, sum.Relations, sum.Chunks)
		for _, f := range sum.Fields {
			fmt.Printf("  field %s: %s\n", f.Name, f.Type)
		}
		for _, name := range sum.RelationNames {
			fmt.Printf("  relation %s\n", name)
		}
		for _, run := range sum.Runs {
			fmt.Printf("  run %s %s/%s records=%d skipped=%d completed=%v\n",
				run.RunID, run.Kind, run.Vendor, run.Records, run.Skipped, run.Completed)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&flagQuery, "query", "", "SQL to run over the vectors view")
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vecport/vecport/internal/adapter"
	"github.com/vecport/vecport/internal/adapter/pinecone"
	"github.com/vecport/vecport/internal/adapter/qdrant"
	"github.com/vecport/vecport/internal/adapter/weaviate"
	"github.com/vecport/vecport/internal/pipeline"
)

var (
	flagDir        string
	flagCollection string
	flagBatchSize  int
	flagModelName  string
	flagCrossRefs  bool
)

var rootCmd = &cobra.Command{
	Use:   "vecport",
	Short: "Export and import vector database collections as portable datasets",
	Long: `vecport drains a vector database collection into a portable dataset
(parquet vectors, SQLite metadata, JSON schema) and replays datasets back
into any supported vendor. Interrupted runs resume from durable cursors.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDir, "dir", "d", "", "dataset directory")
	rootCmd.PersistentFlags().StringVarP(&flagCollection, "collection", "c", "",
		`collection, class or index name ("all" exports every collection)`)
	rootCmd.PersistentFlags().IntVar(&flagBatchSize, "batch-size", 0, "records per vendor call")
	rootCmd.PersistentFlags().StringVar(&flagModelName, "model-name", "",
		"embedding model recorded in run provenance")
	rootCmd.PersistentFlags().BoolVar(&flagCrossRefs, "include-crossrefs", true,
		"export cross-references as relations")

	rootCmd.AddCommand(exportCmd, importCmd, inspectCmd, pushCmd, pullCmd)
}

// pipelineOptions folds flags over environment defaults.
func pipelineOptions(vendor string) pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Vendor = vendor
	opts.BatchSize = cfg.BatchSize
	if flagBatchSize > 0 {
		opts.BatchSize = flagBatchSize
	}
	if cfg.CallTimeout > 0 {
		opts.CallTimeout = cfg.CallTimeout
	}
	opts.ModelName = cfg.ModelName
	if flagModelName != "" {
		opts.ModelName = flagModelName
	}
	return opts
}

func vendorParams(vendor, collection string) (adapter.Params, error) {
	p := adapter.Params{Collection: collection, IncludeRelations: flagCrossRefs}
	switch vendor {
	case "pinecone":
		if secrets.PineconeAPIKey == "" {
			return p, fmt.Errorf("PINECONE_API_KEY is not set")
		}
		if secrets.PineconeIndexURL == "" {
			return p, fmt.Errorf("PINECONE_INDEX_URL is not set")
		}
		p.BaseURL = secrets.PineconeIndexURL
		p.Environment = secrets.PineconeController
		p.APIKey = secrets.PineconeAPIKey
	case "weaviate":
		p.BaseURL = secrets.WeaviateURL
		p.APIKey = secrets.WeaviateAPIKey
	case "qdrant":
		p.BaseURL = secrets.QdrantURL
		p.APIKey = secrets.QdrantAPIKey
	default:
		return p, fmt.Errorf("unknown vendor %q", vendor)
	}
	return p, nil
}

func newSource(vendor string) adapter.Source {
	switch vendor {
	case "pinecone":
		return pinecone.NewSource()
	case "weaviate":
		return weaviate.NewSource()
	default:
		return qdrant.NewSource()
	}
}

func newSink(vendor string) adapter.Sink {
	switch vendor {
	case "pinecone":
		return pinecone.NewSink()
	case "weaviate":
		return weaviate.NewSink()
	default:
		return qdrant.NewSink()
	}
}

func callTimeout() time.Duration {
	if cfg.CallTimeout > 0 {
		return cfg.CallTimeout
	}
	return pipeline.DefaultOptions().CallTimeout
}

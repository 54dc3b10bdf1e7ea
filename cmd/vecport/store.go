package main

import (
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/vecport/vecport/internal/blobstore"
)

var (
	flagStoreRoot string
	flagName      string
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload a dataset to blob storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDir == "" {
			return fmt.Errorf("--dir is required")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		n, err := blobstore.PushDataset(cmd.Context(), store, flagDir, datasetName(), logger)
		if err != nil {
			return err
		}
		fmt.Printf("pushed %d files as %s\n", n, datasetName())
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download a dataset from blob storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDir == "" {
			return fmt.Errorf("--dir is required")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		n, err := blobstore.PullDataset(cmd.Context(), store, flagDir, datasetName(), logger)
		if err != nil {
			return err
		}
		fmt.Printf("pulled %d files into %s\n", n, flagDir)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{pushCmd, pullCmd} {
		cmd.Flags().StringVar(&flagStoreRoot, "store", "",
			"local store root (uses S3_* settings when empty)")
		cmd.Flags().StringVar(&flagName, "name", "", "dataset name in the store")
	}
}

func datasetName() string {
	if flagName != "" {
		return flagName
	}
	return "datasets/default"
}

// openStore picks local or S3-compatible storage. A local root always
// wins; otherwise the S3_* environment settings must be complete.
func openStore() (blobstore.Store, error) {
	if flagStoreRoot != "" {
		return blobstore.NewLocalStore(flagStoreRoot), nil
	}
	if secrets.S3Endpoint == "" || secrets.S3Bucket == "" {
		return nil, fmt.Errorf("set --store for local storage or S3_ENDPOINT and S3_BUCKET for object storage")
	}
	client, err := minio.New(secrets.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(secrets.S3AccessKey, secrets.S3SecretKey, ""),
		Secure: secrets.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	return blobstore.NewMinioStore(client, secrets.S3Bucket, ""), nil
}

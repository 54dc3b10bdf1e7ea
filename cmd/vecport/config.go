package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the VECPORT_-prefixed settings.
type Config struct {
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string        `envconfig:"LOG_FORMAT" default:"json"`
	MetricsAddr string        `envconfig:"METRICS_ADDR"`
	BatchSize   int           `envconfig:"BATCH_SIZE" default:"1000"`
	CallTimeout time.Duration `envconfig:"CALL_TIMEOUT" default:"60s"`
	ModelName   string        `envconfig:"MODEL_NAME" default:"text-embedding-ada-002"`
}

// Secrets carries the vendor credentials under their conventional
// unprefixed names, so existing .env files keep working.
type Secrets struct {
	PineconeAPIKey     string `envconfig:"PINECONE_API_KEY"`
	PineconeIndexURL   string `envconfig:"PINECONE_INDEX_URL"`
	PineconeController string `envconfig:"PINECONE_CONTROLLER_URL"`

	WeaviateURL    string `envconfig:"WEAVIATE_URL"`
	WeaviateAPIKey string `envconfig:"WEAVIATE_API_KEY"`

	QdrantURL    string `envconfig:"QDRANT_URL"`
	QdrantAPIKey string `envconfig:"QDRANT_API_KEY"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"true"`
}

func loadConfig() (Config, Secrets, error) {
	var cfg Config
	if err := envconfig.Process("VECPORT", &cfg); err != nil {
		return cfg, Secrets{}, err
	}
	var sec Secrets
	if err := envconfig.Process("", &sec); err != nil {
		return cfg, sec, err
	}
	return cfg, sec, nil
}

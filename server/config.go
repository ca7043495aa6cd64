package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/roadscan/pkg/pipeline"
	"github.com/cyclopcam/roadscan/server/notify"
)

type Config struct {
	DB                dbh.DBConfig            `json:"db"`
	Storage           StorageConfig           `json:"storage"`
	Outputs           OutputsConfig           `json:"outputs"`
	Detector          pipeline.DetectorConfig `json:"detector"`
	Kafka             notify.Config           `json:"kafka"`
	Listen            string                  `json:"listen"`            // eg ":8080"
	RateLimit         int                     `json:"rateLimit"`         // Maximum run requests per minute, per client IP
	LogDir            string                  `json:"logDir"`            // Per-process log files. Empty disables file logging.
	MaxConcurrentRuns int                     `json:"maxConcurrentRuns"` // Runs beyond this number wait their turn
	MaxRequestBytes   int64                   `json:"maxRequestBytes"`
}

// One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Prefix string `json:"prefix"` // All objects are placed under this prefix
	Public bool   `json:"public"` // Whether the bucket is public. This allows us to give clients direct URLs into GCS, instead of passing the data through our service
}

// Directories inside storage. Empty values take the conventional names.
type OutputsConfig struct {
	JSON  string `json:"json"`
	Image string `json:"image"`
	Video string `json:"video"`
}

// LoadConfig reads a JSON config file, and then applies environment overrides
func LoadConfig(filename string) (*Config, error) {
	cfg := &Config{}
	if filename != "" {
		raw, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config file %v: %w", filename, err)
		}
	}
	cfg.applyEnv()
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Listen = getEnv("ROADSCAN_LISTEN", c.Listen)
	c.Kafka.Brokers = getEnv("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Detector.URL = getEnv("DETECTOR_URL", c.Detector.URL)
	c.MaxConcurrentRuns = getEnvInt("ROADSCAN_MAX_RUNS", c.MaxConcurrentRuns)
	if c.Detector.URL != "" && os.Getenv("DETECTOR_URL") != "" {
		// An explicit URL in the environment beats a labels file in the config
		c.Detector.Labels = ""
	}
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 1
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = 1024 * 1024
	}
	if c.DB.Driver == "" {
		c.DB = dbh.MakeSqliteConfig("roadscan.sqlite")
	}
	if c.Storage.Filesystem == nil && c.Storage.GCS == nil {
		c.Storage.Filesystem = &StorageConfigFS{Root: "."}
	}
}

// apply overrides the output directories of opt
func (o *OutputsConfig) apply(opt *pipeline.Options) {
	if o.JSON != "" {
		opt.JSONDir = o.JSON
	}
	if o.Image != "" {
		opt.ImageDir = o.Image
	}
	if o.Video != "" {
		opt.VideoDir = o.Video
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

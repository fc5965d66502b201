package objectstorage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/filemanager"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/rudderlabs/bulk-delete/internal/publish"
)

// Config selects the bucket the output is uploaded to. Storage holds the provider specific
// settings understood by filemanager (bucketName, accessKeyID, secretAccessKey, endPoint, region, ...).
type Config struct {
	Provider string
	Prefix   string
	Storage  map[string]any
}

// ConfigFromEnv reads BulkDelete.ObjectStorage.* keys.
func ConfigFromEnv(conf *config.Config) Config {
	const prefix = "BulkDelete.ObjectStorage."
	return Config{
		Provider: conf.GetString(prefix+"provider", "S3"),
		Prefix:   conf.GetString(prefix+"prefix", "bulk-delete"),
		Storage: map[string]any{
			"bucketName":       conf.GetString(prefix+"bucketName", ""),
			"accessKeyID":      conf.GetString(prefix+"accessKeyID", ""),
			"secretAccessKey":  conf.GetString(prefix+"secretAccessKey", ""),
			"endPoint":         conf.GetString(prefix+"endPoint", ""),
			"region":           conf.GetString(prefix+"region", ""),
			"s3ForcePathStyle": conf.GetBool(prefix+"s3ForcePathStyle", false),
			"disableSSL":       conf.GetBool(prefix+"disableSSL", false),
			"enableSSE":        conf.GetBool(prefix+"enableSSE", false),
		},
	}
}

type Publisher struct {
	provider    string
	prefix      string
	fileManager filemanager.FileManager

	log   logger.Logger
	stats stats.Stats
}

func New(cfg Config, conf *config.Config, log logger.Logger, stat stats.Stats) (*Publisher, error) {
	if cfg.Provider == "" {
		return nil, errors.New("provider is required")
	}
	if bucket, _ := cfg.Storage["bucketName"].(string); bucket == "" {
		return nil, errors.New("bucketName is required")
	}

	log = log.Child("objectstorage")
	fm, err := filemanager.New(&filemanager.Settings{
		Provider: cfg.Provider,
		Config:   cfg.Storage,
		Logger:   log,
		Conf:     conf,
	})
	if err != nil {
		return nil, fmt.Errorf("creating file manager for %s: %w", cfg.Provider, err)
	}
	return &Publisher{
		provider:    cfg.Provider,
		prefix:      cfg.Prefix,
		fileManager: fm,
		log:         log,
		stats:       stat,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, localPath string) error {
	start := time.Now()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %q: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	var prefixes []string
	if p.prefix != "" {
		prefixes = append(prefixes, p.prefix)
	}
	uploaded, err := p.fileManager.Upload(ctx, f, prefixes...)
	if err != nil {
		return fmt.Errorf("uploading %q to %s: %w", localPath, p.provider, err)
	}

	p.log.Infon("File uploaded",
		logger.NewStringField("provider", p.provider),
		logger.NewStringField("location", uploaded.Location),
		logger.NewStringField("objectName", uploaded.ObjectName),
	)
	p.stats.NewTaggedStat("bulk_delete_publish_time", stats.TimerType, stats.Tags{"publisher": "object-storage"}).Since(start)
	return nil
}

var _ publish.Publisher = (*Publisher)(nil)

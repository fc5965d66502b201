package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	svcMetric "github.com/rudderlabs/rudder-go-kit/stats/metric"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/rudderlabs/bulk-delete/internal/delete"
	"github.com/rudderlabs/bulk-delete/internal/delete/api"
	"github.com/rudderlabs/bulk-delete/internal/model"
	"github.com/rudderlabs/bulk-delete/internal/pipeline"
	"github.com/rudderlabs/bulk-delete/internal/publish"
	"github.com/rudderlabs/bulk-delete/internal/publish/objectstorage"
	"github.com/rudderlabs/bulk-delete/internal/publish/sftp"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2

	appName = "bulk-delete"

	appDescription = "Every row of INPUT_CSV is deleted in order and reported in the output CSV.\n" +
		"Rows with an empty resource_id are not sent to the API; they are reported as failed with \"empty resource_id\"."
)

// ReleaseInfo holds the release information
type ReleaseInfo struct {
	Version   string
	Commit    string
	BuildDate string
	BuiltBy   string
}

// Runner parses the command line, runs the pipeline and publishes the output.
type Runner struct {
	releaseInfo ReleaseInfo
	conf        *config.Config
	logger      logger.Logger
	stdout      io.Writer
	stderr      io.Writer

	// stats is created and started by Run when nil
	stats stats.Stats

	newPublisher func(c *cli.Context) (publish.Publisher, error)
}

// New creates and initializes a new Runner
func New(releaseInfo ReleaseInfo) *Runner {
	r := &Runner{
		releaseInfo: releaseInfo,
		conf:        config.Default,
		logger:      logger.NewLogger().Child("runner"),
		stdout:      os.Stdout,
		stderr:      os.Stderr,
	}
	r.newPublisher = r.publisherFromFlags
	return r
}

// fatalError marks a run that started but could not complete.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Run runs the command and returns the exit code
func (r *Runner) Run(ctx context.Context, args []string) int {
	if err := r.conf.DotEnvLoaded(); err != nil {
		r.logger.Debugn("Config: No .env file loaded", obskit.Error(err))
	} else {
		r.logger.Infon("Config: Loaded .env file")
	}

	app := r.app()
	err := app.RunContext(ctx, args)
	if err == nil {
		return exitOK
	}

	_, _ = fmt.Fprintf(r.stderr, "Error: %v\n", err)
	var fe *fatalError
	if errors.As(err, &fe) {
		return exitFatal
	}
	return exitUsage
}

func (r *Runner) app() *cli.App {
	// exit codes are decided by Run
	return &cli.App{
		Name:           appName,
		Usage:          "delete the resources listed in a CSV file and report the outcome of every deletion",
		ArgsUsage:      "INPUT_CSV",
		Description:    appDescription,
		Version:        r.releaseInfo.Version,
		Writer:         r.stdout,
		ErrWriter:      r.stderr,
		ExitErrHandler: func(*cli.Context, error) {},
		Flags:          r.flags(),
		Action:         r.action,
	}
}

func (r *Runner) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "path of the output CSV",
			Value:   r.conf.GetString("BulkDelete.outputFile", "output_results.csv"),
			EnvVars: []string{"BULK_DELETE_OUTPUT"},
		},
		&cli.StringFlag{
			Name:     "site-id",
			Usage:    "site the resources belong to",
			Required: true,
			EnvVars:  []string{"BULK_DELETE_SITE_ID"},
		},
		&cli.StringFlag{
			Name:     "username",
			Usage:    "API username",
			Required: true,
			EnvVars:  []string{"BULK_DELETE_USERNAME"},
		},
		&cli.StringFlag{
			Name:     "password",
			Usage:    "API password",
			Required: true,
			EnvVars:  []string{"BULK_DELETE_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "api-base-url",
			Usage:   "base URL of the resources API",
			Value:   r.conf.GetString("BulkDelete.API.baseURL", "https://api.zetaglobal.net/ver2/"),
			EnvVars: []string{"BULK_DELETE_API_BASE_URL"},
		},
		&cli.DurationFlag{
			Name:    "retry-delay",
			Usage:   "wait before the single retry of a failed deletion",
			Value:   r.conf.GetDuration("BulkDelete.retryDelay", int64(delete.DefaultRetryDelay/time.Second), time.Second),
			EnvVars: []string{"BULK_DELETE_RETRY_DELAY"},
		},
		&cli.StringFlag{
			Name:    "publisher",
			Usage:   "where to deliver the output CSV: sftp, object-storage or none",
			Value:   r.conf.GetString("BulkDelete.publisher", "sftp"),
			EnvVars: []string{"BULK_DELETE_PUBLISHER"},
		},
		&cli.StringFlag{
			Name:    "sftp-host",
			Usage:   "SFTP server host",
			EnvVars: []string{"BULK_DELETE_SFTP_HOST"},
		},
		&cli.IntFlag{
			Name:    "sftp-port",
			Usage:   "SFTP server port",
			Value:   sftp.DefaultPort,
			EnvVars: []string{"BULK_DELETE_SFTP_PORT"},
		},
		&cli.StringFlag{
			Name:    "sftp-user",
			Usage:   "SFTP username",
			EnvVars: []string{"BULK_DELETE_SFTP_USER"},
		},
		&cli.StringFlag{
			Name:    "sftp-pass",
			Usage:   "SFTP password",
			EnvVars: []string{"BULK_DELETE_SFTP_PASS"},
		},
		&cli.StringFlag{
			Name:    "sftp-private-key",
			Usage:   "path of a private key file, used instead of the SFTP password",
			EnvVars: []string{"BULK_DELETE_SFTP_PRIVATE_KEY"},
		},
		&cli.StringFlag{
			Name:    "sftp-remote-dir",
			Usage:   "remote directory the output CSV is uploaded to",
			Value:   sftp.DefaultRemoteDir,
			EnvVars: []string{"BULK_DELETE_SFTP_REMOTE_DIR"},
		},
	}
}

func (r *Runner) action(c *cli.Context) error {
	ctx := c.Context
	if c.NArg() != 1 {
		_ = cli.ShowAppHelp(c)
		return fmt.Errorf("expected exactly one INPUT_CSV argument, got %d", c.NArg())
	}
	inputPath := c.Args().First()
	outputPath := c.String("output")

	if r.stats == nil {
		stop, err := r.startStats(ctx)
		if err != nil {
			return &fatalError{err: err}
		}
		defer stop()
	}

	publisher, err := r.newPublisher(c)
	if err != nil {
		return fmt.Errorf("configuring publisher: %w", err)
	}

	rc := model.RunContext{
		RunID:      uuid.NewString(),
		SiteID:     c.String("site-id"),
		AuthHeader: api.BasicAuthHeader(c.String("username"), c.String("password")),
		RetryDelay: c.Duration("retry-delay"),
	}
	log := r.logger.Withn(
		logger.NewStringField("runId", rc.RunID),
		logger.NewStringField("siteId", rc.SiteID),
	)

	apiManager := &api.APIManager{
		Client:  &http.Client{Timeout: r.conf.GetDuration("BulkDelete.API.timeout", 30, time.Second)},
		BaseURL: c.String("api-base-url"),
		Logger:  r.logger,
		Stats:   r.stats,
	}
	p := pipeline.New(delete.NewRetrier(apiManager, r.logger, r.stats), r.logger, r.stats)

	log.Infon("Starting run",
		logger.NewStringField("input", inputPath),
		logger.NewStringField("output", outputPath),
	)
	start := time.Now()
	summary, err := p.RunFile(ctx, rc, inputPath, outputPath)
	if err != nil {
		log.Errorn("Run failed", obskit.Error(err))
		return &fatalError{err: err}
	}

	r.printSummary(summary)
	log.Infon("Run completed",
		logger.NewIntField("total", int64(summary.Total)),
		logger.NewIntField("success", int64(summary.Success)),
		logger.NewIntField("failed", int64(summary.Failed)),
		logger.NewStringField("output", summary.OutputPath),
		logger.NewDurationField("duration", time.Since(start)),
	)

	if err := publisher.Publish(ctx, summary.OutputPath); err != nil {
		log.Errorn("Publishing output failed, the local file is kept",
			logger.NewStringField("output", summary.OutputPath),
			obskit.Error(err),
		)
		r.stats.NewTaggedStat("bulk_delete_publish_failures", stats.CountType, stats.Tags{
			"siteId":    rc.SiteID,
			"publisher": c.String("publisher"),
		}).Increment()
		return nil
	}
	log.Infon("Output published", logger.NewStringField("publisher", c.String("publisher")))
	return nil
}

func (r *Runner) startStats(ctx context.Context) (func(), error) {
	statsOptions := []stats.Option{
		stats.WithServiceName(appName),
		stats.WithServiceVersion(r.releaseInfo.Version),
	}
	for histogramName, buckets := range customBuckets {
		statsOptions = append(statsOptions, stats.WithHistogramBuckets(histogramName, buckets))
	}
	stats.Default = stats.NewStats(r.conf, logger.Default, svcMetric.Instance, statsOptions...)
	if err := stats.Default.Start(ctx, stats.DefaultGoRoutineFactory); err != nil {
		return nil, fmt.Errorf("starting stats: %w", err)
	}
	r.stats = stats.Default
	return func() {
		stats.Default.Stop()
	}, nil
}

func (r *Runner) publisherFromFlags(c *cli.Context) (publish.Publisher, error) {
	switch kind := c.String("publisher"); kind {
	case "sftp":
		cfg := sftp.Config{
			Host:      c.String("sftp-host"),
			Port:      c.Int("sftp-port"),
			User:      c.String("sftp-user"),
			Password:  c.String("sftp-pass"),
			RemoteDir: c.String("sftp-remote-dir"),
		}
		if keyPath := c.String("sftp-private-key"); keyPath != "" {
			key, err := os.ReadFile(keyPath)
			if err != nil {
				return nil, fmt.Errorf("reading private key: %w", err)
			}
			cfg.PrivateKey = string(key)
		}
		return sftp.New(cfg, r.logger, r.stats)
	case "object-storage":
		return objectstorage.New(objectstorage.ConfigFromEnv(r.conf), r.conf, r.logger, r.stats)
	case "none":
		return publish.NOP, nil
	default:
		return nil, fmt.Errorf("unknown publisher %q", kind)
	}
}

func (r *Runner) printSummary(summary model.RunSummary) {
	table := tablewriter.NewWriter(r.stdout)
	table.SetHeader([]string{"Site ID", "Total Records", "Successful (2xx)", "Failed", "Output File"})
	table.SetAutoFormatHeaders(false)
	table.Append([]string{
		summary.SiteID,
		strconv.Itoa(summary.Total),
		strconv.Itoa(summary.Success),
		strconv.Itoa(summary.Failed),
		summary.OutputPath,
	})
	table.Render()
}

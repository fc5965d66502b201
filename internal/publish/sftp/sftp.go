package sftp

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/sftp"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/rudderlabs/bulk-delete/internal/publish"
)

const (
	DefaultPort      = 22
	DefaultRemoteDir = "/file_share"

	passwordAuth = "passwordAuth"
	keyAuth      = "keyAuth"
)

type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string
	RemoteDir  string

	DialTimeout time.Duration
}

type uploader interface {
	Upload(localFilePath, remoteFilePath string) error
}

// Publisher uploads files to <RemoteDir>/<base name> over SFTP.
// A new SSH session is opened for every Publish call.
type Publisher struct {
	sshConfig *sftp.SSHConfig
	remoteDir string

	log   logger.Logger
	stats stats.Stats

	newUploader func(*sftp.SSHConfig) (uploader, error)
}

func New(cfg Config, log logger.Logger, stat stats.Stats) (*Publisher, error) {
	sshConfig, err := createSSHConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating SSH config: %w", err)
	}
	remoteDir := cfg.RemoteDir
	if remoteDir == "" {
		remoteDir = DefaultRemoteDir
	}
	return &Publisher{
		sshConfig:   sshConfig,
		remoteDir:   remoteDir,
		log:         log.Child("sftp"),
		stats:       stat,
		newUploader: newFileManager,
	}, nil
}

func newFileManager(sshConfig *sftp.SSHConfig) (uploader, error) {
	return sftp.NewFileManager(sshConfig, sftp.WithRetryOnIdleConnection())
}

func (p *Publisher) Publish(ctx context.Context, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	remotePath := p.RemotePath(localPath)
	log := p.log.Withn(
		logger.NewStringField("host", p.sshConfig.HostName),
		logger.NewStringField("remotePath", remotePath),
	)

	fileManager, err := p.newUploader(p.sshConfig)
	if err != nil {
		return fmt.Errorf("connecting to %s:%d: %w", p.sshConfig.HostName, p.sshConfig.Port, err)
	}

	log.Debugn("File upload started")
	if err := fileManager.Upload(localPath, remotePath); err != nil {
		return fmt.Errorf("uploading %q to %q: %w", localPath, remotePath, err)
	}
	log.Infon("File uploaded", logger.NewDurationField("duration", time.Since(start)))

	p.stats.NewTaggedStat("bulk_delete_publish_time", stats.TimerType, stats.Tags{"publisher": "sftp"}).Since(start)
	return nil
}

// RemotePath is the destination of localPath on the server.
func (p *Publisher) RemotePath(localPath string) string {
	return path.Join(p.remoteDir, filepath.Base(localPath))
}

func createSSHConfig(cfg Config) (*sftp.SSHConfig, error) {
	if cfg.Host == "" {
		return nil, errors.New("host is required")
	}
	if cfg.User == "" {
		return nil, errors.New("user is required")
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	sshConfig := &sftp.SSHConfig{
		User:        cfg.User,
		HostName:    cfg.Host,
		Port:        port,
		DialTimeout: dialTimeout,
	}
	switch {
	case cfg.PrivateKey != "":
		sshConfig.AuthMethod = keyAuth
		sshConfig.PrivateKey = cfg.PrivateKey
	case cfg.Password != "":
		sshConfig.AuthMethod = passwordAuth
		sshConfig.Password = cfg.Password
	default:
		return nil, errors.New("either password or private key is required")
	}
	return sshConfig, nil
}

var _ publish.Publisher = (*Publisher)(nil)

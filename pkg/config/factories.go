package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/mitchellh/mapstructure"
	"github.com/quillfs/quillfs/internal/logger"
	"github.com/quillfs/quillfs/pkg/backup"
	backupFS "github.com/quillfs/quillfs/pkg/backup/fs"
	backupS3 "github.com/quillfs/quillfs/pkg/backup/s3"
	"github.com/quillfs/quillfs/pkg/capability"
	"github.com/quillfs/quillfs/pkg/capability/osdir"
	"github.com/quillfs/quillfs/pkg/metrics"
	"github.com/quillfs/quillfs/pkg/metrics/prometheus"
	"github.com/quillfs/quillfs/pkg/registry"
	"github.com/quillfs/quillfs/pkg/store"
	"github.com/quillfs/quillfs/pkg/store/local"
	"github.com/quillfs/quillfs/pkg/store/native"
)

// InitLogger configures the global logger from the logging section.
func InitLogger(cfg LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
}

// InitMetrics initializes the metrics registry when enabled.
func InitMetrics(cfg MetricsConfig) {
	if cfg.Enabled {
		metrics.InitRegistry()
	}
}

// OpenDatabase opens the shared embedded database holding the registry
// and every local-backend workspace.
func OpenDatabase(cfg StorageConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", cfg.Path, err)
	}

	logger.Debug("database opened at %q", cfg.Path)
	return db, nil
}

// NewResolver returns the capability resolver for native registry
// entries, backed by the operating system's directory tree.
func NewResolver() registry.Resolver {
	return registry.ResolverFunc(
		func(ctx context.Context, entry registry.Entry) (capability.Directory, error) {
			if entry.Metadata.NativePath == "" {
				return nil, fmt.Errorf("%w: entry %q has no directory reference",
					capability.ErrInvalidCapability, entry.UID)
			}
			return osdir.New(entry.Metadata.NativePath)
		})
}

// BackendSet builds concrete stores for the lifecycle controller.
type BackendSet struct {
	db     *badger.DB
	native NativeConfig

	localMetrics  metrics.StoreMetrics
	nativeMetrics metrics.StoreMetrics
	walkerMetrics metrics.WalkerMetrics
}

// NewBackendSet wires the backend factories to the shared database and
// the native walking configuration. Prometheus collectors register
// against the global registry here, exactly once; the per-open store
// constructors reuse them, so reopening workspaces never re-registers.
func NewBackendSet(db *badger.DB, nativeCfg NativeConfig) *BackendSet {
	return &BackendSet{
		db:            db,
		native:        nativeCfg,
		localMetrics:  prometheus.NewStoreMetrics(string(store.BackendLocal)),
		nativeMetrics: prometheus.NewStoreMetrics(string(store.BackendNative)),
		walkerMetrics: prometheus.NewWalkerMetrics(),
	}
}

// LocalStore implements lifecycle.Backends.
func (b *BackendSet) LocalStore(uid string) store.Store {
	return local.New(b.db, uid, local.WithMetrics(b.localMetrics))
}

// NativeStore implements lifecycle.Backends.
func (b *BackendSet) NativeStore(dir capability.Directory) store.Store {
	walker := native.NewWalker(
		native.WithWalkerMetrics(b.walkerMetrics))

	return native.New(dir,
		native.WithWalker(walker),
		native.WithIgnoredDirs(b.native.IgnoredDirs),
		native.WithExtensions(b.native.Extensions),
		native.WithMetrics(b.nativeMetrics))
}

// CreateBackupSink builds the configured backup sink. An empty type
// defaults to the filesystem sink under the data directory.
func CreateBackupSink(ctx context.Context, cfg BackupConfig) (backup.Sink, error) {
	switch cfg.Type {
	case "", "fs":
		return createFSBackupSink(cfg.Options)
	case "s3":
		return createS3BackupSink(ctx, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown backup sink type: %s", cfg.Type)
	}
}

func createFSBackupSink(options map[string]any) (backup.Sink, error) {
	type fsSinkConfig struct {
		Dir string `mapstructure:"dir"`
	}

	var sinkCfg fsSinkConfig
	if err := mapstructure.Decode(options, &sinkCfg); err != nil {
		return nil, fmt.Errorf("failed to decode fs backup sink config: %w", err)
	}
	if sinkCfg.Dir == "" {
		sinkCfg.Dir = defaultBackupDir()
	}

	sink, err := backupFS.New(sinkCfg.Dir)
	if err != nil {
		return nil, err
	}

	logger.Info("filesystem backup sink initialized: dir=%s", sinkCfg.Dir)
	return sink, nil
}

func createS3BackupSink(ctx context.Context, options map[string]any) (backup.Sink, error) {
	type s3SinkConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var sinkCfg s3SinkConfig
	if err := mapstructure.Decode(options, &sinkCfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 backup sink config: %w", err)
	}
	if sinkCfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backup sink: bucket is required")
	}
	if sinkCfg.Region == "" {
		return nil, fmt.Errorf("s3 backup sink: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(sinkCfg.Region))

	// Custom endpoint covers MinIO and Localstack setups.
	if sinkCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               sinkCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if sinkCfg.AccessKeyID != "" && sinkCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			sinkCfg.AccessKeyID,
			sinkCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := sinkCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awsS3.NewFromConfig(cfg, func(o *awsS3.Options) {
		if sinkCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	sink, err := backupS3.New(ctx, backupS3.Config{
		Client:    client,
		Bucket:    sinkCfg.Bucket,
		KeyPrefix: sinkCfg.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("s3 backup sink initialized: bucket=%s, region=%s, prefix=%s",
		sinkCfg.Bucket, sinkCfg.Region, sinkCfg.KeyPrefix)

	return sink, nil
}

func defaultBackupDir() string {
	return getDataDir() + "/backups"
}

package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/queue"
	storagefs "github.com/affixlabs/affix/storage/fs"
	storagemem "github.com/affixlabs/affix/storage/memory"
	storages3 "github.com/affixlabs/affix/storage/s3"
)

// BuildRegistry constructs every configured storage and registers it
// under its configured name.
func BuildRegistry(ctx context.Context, cfg *Config) (*attach.Registry, error) {
	registry := attach.NewRegistry()
	for name, sc := range cfg.Storages {
		storage, err := buildStorage(ctx, &sc)
		if err != nil {
			return nil, fmt.Errorf("storage %q: %w", name, err)
		}
		registry.Register(name, storage)
	}
	return registry, nil
}

func buildStorage(ctx context.Context, cfg *StorageConfig) (attach.Storage, error) {
	switch cfg.Type {
	case "fs":
		return buildFSStorage(cfg.FS)
	case "memory":
		return storagemem.New(), nil
	case "s3":
		return buildS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func buildFSStorage(options map[string]any) (attach.Storage, error) {
	var sc struct {
		Dir     string `mapstructure:"dir"`
		BaseURL string `mapstructure:"base_url"`
	}
	if err := mapstructure.Decode(options, &sc); err != nil {
		return nil, fmt.Errorf("decode fs options: %w", err)
	}
	if sc.Dir == "" {
		return nil, errors.New("fs: dir is required")
	}
	var opts []storagefs.Option
	if sc.BaseURL != "" {
		opts = append(opts, storagefs.WithBaseURL(sc.BaseURL))
	}
	return storagefs.New(sc.Dir, opts...)
}

func buildS3Storage(ctx context.Context, options map[string]any) (attach.Storage, error) {
	var sc struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		PublicURL       string `mapstructure:"public_url"`
	}
	if err := mapstructure.Decode(options, &sc); err != nil {
		return nil, fmt.Errorf("decode s3 options: %w", err)
	}
	if sc.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if sc.Region == "" {
		return nil, errors.New("s3: region is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(sc.Region)}
	if sc.AccessKeyID != "" && sc.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKeyID, sc.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			// MinIO and friends want the bucket in the path.
			o.BaseEndpoint = aws.String(sc.Endpoint)
			o.UsePathStyle = true
		}
	})

	return storages3.New(storages3.Config{
		Client:    client,
		Bucket:    sc.Bucket,
		KeyPrefix: sc.KeyPrefix,
		PublicURL: sc.PublicURL,
	})
}

// BuildQueue constructs the configured job transport. The database
// transport rides on db; redis dials its own connection.
func BuildQueue(cfg *QueueConfig, db *gorm.DB) (attach.Dispatcher, error) {
	switch cfg.Type {
	case "database":
		return queue.NewDatabase(db), nil
	case "redis":
		var rc struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			Key      string `mapstructure:"key"`
		}
		if err := mapstructure.Decode(cfg.Redis, &rc); err != nil {
			return nil, fmt.Errorf("decode redis options: %w", err)
		}
		if rc.Addr == "" {
			return nil, errors.New("redis: addr is required")
		}
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		return queue.NewRedis(client, rc.Key), nil
	default:
		return nil, fmt.Errorf("unknown queue type %q", cfg.Type)
	}
}

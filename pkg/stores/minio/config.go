package minio

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7/pkg/s3utils"

	"github.com/StricklySoft/stricklysoft-authn/pkg/config"
)

// maxStatementTruncateLen bounds operation descriptions recorded in spans.
const maxStatementTruncateLen = 100

// Defaults applied by [DefaultConfig] and [Config.Validate].
const (
	DefaultEndpoint      = "localhost:9000"
	DefaultRegion        = "us-east-1"
	DefaultBucket        = "authn-keys"
	DefaultPrefix        = "keys/"
	DefaultHealthTimeout = 5 * time.Second
)

// Config holds the MinIO connection settings and where key records live.
type Config struct {
	Endpoint  string        `json:"endpoint,omitempty" yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string        `json:"access_key,omitempty" yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey config.Secret `json:"-" yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Region    string        `json:"region,omitempty" yaml:"region" env:"MINIO_REGION"`
	UseSSL    bool          `json:"use_ssl,omitempty" yaml:"use_ssl" env:"MINIO_USE_SSL"`

	// Bucket holds the key records. [Repository.EnsureBucket] creates it.
	Bucket string `json:"bucket,omitempty" yaml:"bucket" env:"MINIO_BUCKET"`

	// Prefix is prepended to every object name. It should end in "/".
	Prefix string `json:"prefix,omitempty" yaml:"prefix" env:"MINIO_PREFIX"`
}

// DefaultConfig returns a Config for a local MinIO without TLS.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
		Bucket:   DefaultBucket,
		Prefix:   DefaultPrefix,
	}
}

// Validate applies defaults for zero-valued fields and returns the first
// problem found.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("minio: config endpoint must be host:port without a scheme, got %q", c.Endpoint)
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if err := s3utils.CheckValidBucketName(c.Bucket); err != nil {
		return fmt.Errorf("minio: config bucket: %w", err)
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	return nil
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}

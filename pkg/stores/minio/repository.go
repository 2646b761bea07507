// Package minio keeps data protection key records as JSON objects in a
// MinIO or other S3-compatible bucket, one object per key:
//
//	repo, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	if err := repo.EnsureBucket(ctx); err != nil { ... }
//	km, err := protect.NewKeyManager(repo, protect.DefaultKeyManagerConfig())
//
// Object storage suits key rings shared by instances that have no database
// in common. Sessions are not stored here; use the redis or postgres store
// for those.
package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authn/pkg/protect"
)

const tracerName = "github.com/StricklySoft/stricklysoft-authn/pkg/stores/minio"

// maxRecordSize caps how much of a key object is read.
const maxRecordSize = 64 << 10

// ObjectStore is the subset of minio-go the repository uses.
// [*minio.Client] satisfies it.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var (
	_ ObjectStore           = (*minio.Client)(nil)
	_ protect.KeyRepository = (*Repository)(nil)
)

// Repository implements [protect.KeyRepository]. It is safe for
// concurrent use.
type Repository struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// New validates cfg and connects, probing the server with BucketExists.
// The bucket does not have to exist yet.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: cannot reach the server
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}
	if _, err := client.BucketExists(ctx, cfg.Bucket); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}
	return NewFromStore(client, &cfg), nil
}

// NewFromStore wraps an existing [ObjectStore]. cfg is not validated; nil
// means [DefaultConfig].
func NewFromStore(store ObjectStore, cfg *Config) *Repository {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Repository{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// EnsureBucket creates the configured bucket when it is missing.
func (r *Repository) EnsureBucket(ctx context.Context) (err error) {
	ctx, span := r.startSpan(ctx, "EnsureBucket", "MakeBucket "+r.config.Bucket)
	defer func() { finishSpan(span, err) }()

	exists, err := r.store.BucketExists(ctx, r.config.Bucket)
	if err != nil {
		return wrapError(err, "minio: bucket lookup failed")
	}
	if exists {
		return nil
	}
	if err := r.store.MakeBucket(ctx, r.config.Bucket, minio.MakeBucketOptions{Region: r.config.Region}); err != nil {
		// Another instance may have won the race.
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return wrapError(err, "minio: create bucket failed")
	}
	return nil
}

// LoadKeys implements [protect.KeyRepository]. Records are returned
// ordered by creation time.
func (r *Repository) LoadKeys(ctx context.Context) (_ []protect.KeyRecord, err error) {
	ctx, span := r.startSpan(ctx, "LoadKeys", "ListObjects "+r.config.Prefix)
	defer func() { finishSpan(span, err) }()

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var names []string
	for info := range r.store.ListObjects(listCtx, r.config.Bucket, minio.ListObjectsOptions{Prefix: r.config.Prefix}) {
		if info.Err != nil {
			return nil, wrapError(info.Err, "minio: list keys failed")
		}
		if strings.HasSuffix(info.Key, ".json") {
			names = append(names, info.Key)
		}
	}

	records := make([]protect.KeyRecord, 0, len(names))
	for _, name := range names {
		rec, err := r.readRecord(ctx, name)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Created.Equal(records[j].Created) {
			return records[i].Created.Before(records[j].Created)
		}
		return records[i].ID.String() < records[j].ID.String()
	})
	span.SetAttributes(attribute.Int("authn.key_count", len(records)))
	return records, nil
}

func (r *Repository) readRecord(ctx context.Context, name string) (protect.KeyRecord, error) {
	obj, err := r.store.GetObject(ctx, r.config.Bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return protect.KeyRecord{}, wrapError(err, "minio: read key failed")
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxRecordSize))
	if err != nil {
		return protect.KeyRecord{}, wrapError(err, "minio: read key failed")
	}
	var rec protect.KeyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return protect.KeyRecord{}, sserr.Wrapf(err, sserr.CodeInternalDatabase, "minio: key record %s is corrupt", name)
	}
	return rec, nil
}

// StoreKey implements [protect.KeyRepository]. The record overwrites any
// object with the same id.
func (r *Repository) StoreKey(ctx context.Context, rec protect.KeyRecord) (err error) {
	name := r.objectName(rec)
	ctx, span := r.startSpan(ctx, "StoreKey", "PutObject "+name)
	defer func() { finishSpan(span, err) }()

	data, err := json.Marshal(rec)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "minio: encode key record")
	}
	_, err = r.store.PutObject(ctx, r.config.Bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return wrapError(err, "minio: store key failed")
	}
	return nil
}

func (r *Repository) objectName(rec protect.KeyRecord) string {
	return r.config.Prefix + rec.ID.String() + ".json"
}

// Health probes the bucket, applying [DefaultHealthTimeout] when ctx has
// no deadline.
func (r *Repository) Health(ctx context.Context) error {
	ctx, span := r.startSpan(ctx, "Health", "BucketExists "+r.config.Bucket)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	_, err := r.store.BucketExists(ctx, r.config.Bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

func (r *Repository) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := r.tracer.Start(ctx, "minio."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", r.config.Bucket),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies deadline errors as retryable timeouts. A canceled
// context means the caller gave up, so it is not retryable.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"trackd/internal/model"
	"trackd/internal/tracking"
)

// S3Store keeps each tracking record as a JSON object in an S3 bucket under
// the configured prefix. The version travels inside the object document; S3
// offers no conditional writes at this API level, so conditional puts are
// serialized by a per-process mutex and the S3 backend is meant for a
// single service instance.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	mu       sync.Mutex
}

// S3Options carries the connection settings for an S3-backed record store.
// AccessKeyID and SecretAccessKey are optional; when empty the SDK's default
// credential chain applies (environment, shared config, instance role).
// Endpoint is optional and supports S3-compatible stores like MinIO.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Store creates an S3-backed record store for the given bucket.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// S3-compatible stores generally do not support virtual-hosted
			// bucket addressing.
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
	}, nil
}

func (s *S3Store) Get(key model.TrackingKey) (*model.TrackedContent, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument(context.Background(), s.recordKey(key))
	if err != nil {
		return nil, 0, err
	}
	return doc.Record, doc.Version, nil
}

func (s *S3Store) Put(key model.TrackingKey, record *model.TrackedContent, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	objectKey := s.recordKey(key)

	doc, err := s.readDocument(ctx, objectKey)
	switch {
	case errors.Is(err, tracking.ErrNotFound):
		if expectedVersion != 0 {
			return tracking.ErrConflict
		}
	case err != nil:
		return err
	default:
		if doc.Version != expectedVersion {
			return tracking.ErrConflict
		}
	}

	next := recordDocument{Version: expectedVersion + 1, Record: record}
	return s.writeObject(ctx, objectKey, &next)
}

func (s *S3Store) Delete(key model.TrackingKey) error {
	_, err := s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.recordKey(key)),
	})
	if err != nil {
		return fmt.Errorf("deleting record object: %w", err)
	}
	return nil
}

func (s *S3Store) ListKeys(state model.RecordState) ([]model.TrackingKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	keys, err := s.listObjectKeys(ctx, s.objectPrefix(recordsDir))
	if err != nil {
		return nil, err
	}

	var matched []model.TrackingKey
	for _, key := range keys {
		doc, err := s.readDocument(ctx, s.recordKey(key))
		if errors.Is(err, tracking.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if doc.Record.State == state {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

func (s *S3Store) GetLegacy(key model.TrackingKey) (*model.TrackedContent, error) {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.legacyKey(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, tracking.ErrNotFound
		}
		return nil, fmt.Errorf("fetching legacy record object: %w", err)
	}
	defer out.Body.Close()

	var record model.TrackedContent
	if err := json.NewDecoder(out.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("decoding legacy record %q: %w", key, err)
	}
	return &record, nil
}

func (s *S3Store) PutLegacy(key model.TrackingKey, record *model.TrackedContent) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding legacy record %q: %w", key, err)
	}
	_, err = s.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.legacyKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading legacy record object: %w", err)
	}
	return nil
}

func (s *S3Store) ListLegacyKeys() ([]model.TrackingKey, error) {
	return s.listObjectKeys(context.Background(), s.objectPrefix(legacyDir))
}

func (s *S3Store) Close() error { return nil }

func (s *S3Store) readDocument(ctx context.Context, objectKey string) (*recordDocument, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, tracking.ErrNotFound
		}
		return nil, fmt.Errorf("fetching record object: %w", err)
	}
	defer out.Body.Close()

	var doc recordDocument
	if err := json.NewDecoder(out.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding record object %q: %w", objectKey, err)
	}
	if doc.Record == nil {
		return nil, fmt.Errorf("record object %q has no record", objectKey)
	}
	return &doc, nil
}

func (s *S3Store) writeObject(ctx context.Context, objectKey string, doc *recordDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading record object: %w", err)
	}
	return nil
}

func (s *S3Store) listObjectKeys(ctx context.Context, prefix string) ([]model.TrackingKey, error) {
	var keys []model.TrackingKey
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing record objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
				continue
			}
			unescaped, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
			if err != nil {
				return nil, fmt.Errorf("unexpected record object name %q: %w", name, err)
			}
			keys = append(keys, model.TrackingKey(unescaped))
		}
	}
	return keys, nil
}

func (s *S3Store) objectPrefix(area string) string {
	if s.prefix == "" {
		return area + "/"
	}
	return s.prefix + "/" + area + "/"
}

func (s *S3Store) recordKey(key model.TrackingKey) string {
	return s.objectPrefix(recordsDir) + url.PathEscape(string(key)) + ".json"
}

func (s *S3Store) legacyKey(key model.TrackingKey) string {
	return s.objectPrefix(legacyDir) + url.PathEscape(string(key)) + ".json"
}

func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &noSuchKey)
}

// Compile-time check that S3Store implements the RecordStore interface
var _ tracking.RecordStore = (*S3Store)(nil)

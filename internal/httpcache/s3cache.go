package httpcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is an S3-backed Store, for deployments that want the HTTP input
// cache to survive past a single host rather than live on local disk.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig configures an S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO/LocalStack-compatible endpoints
	Prefix   string
}

// NewS3Store builds an S3-backed cache store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("httpcache: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) bodyKey(key string) string { return s.prefix + key + ".body" }
func (s *S3Store) metaKey(key string) string  { return s.prefix + key + ".meta.json" }

func (s *S3Store) Get(url string) ([]byte, *Entry, bool, error) {
	ctx := context.Background()
	key := keyFor(url)

	metaOut, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.metaKey(key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("httpcache: s3 get metadata: %w", err)
	}
	defer metaOut.Body.Close()
	metaBytes, err := io.ReadAll(metaOut.Body)
	if err != nil {
		return nil, nil, false, fmt.Errorf("httpcache: s3 read metadata: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(metaBytes, &entry); err != nil {
		return nil, nil, false, fmt.Errorf("httpcache: decode metadata: %w", err)
	}

	bodyOut, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.bodyKey(key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("httpcache: s3 get body: %w", err)
	}
	defer bodyOut.Body.Close()
	body, err := io.ReadAll(bodyOut.Body)
	if err != nil {
		return nil, nil, false, fmt.Errorf("httpcache: s3 read body: %w", err)
	}
	return body, &entry, true, nil
}

func (s *S3Store) Put(url string, body []byte, entry *Entry) error {
	ctx := context.Background()
	key := keyFor(url)

	metaBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("httpcache: encode metadata: %w", err)
	}

	// S3's PutObject is itself atomic from a reader's perspective (no
	// partial-object visibility), so no temp-then-rename dance is needed
	// here the way the filesystem backend requires.
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.bodyKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/octet-stream"),
	}); err != nil {
		return fmt.Errorf("httpcache: s3 put body: %w", err)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.metaKey(key)),
		Body:        bytes.NewReader(metaBytes),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("httpcache: s3 put metadata: %w", err)
	}
	return nil
}

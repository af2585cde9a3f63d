package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Options configures an S3Client. Empty credentials fall back to the
// default AWS chain; Endpoint targets S3 compatible stores such as MinIO.
type S3Options struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Name        string            `json:"name"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Encrypted   bool              `json:"encrypted"`
	Metadata    map[string]string `json:"metadata"`
}

// S3Client downloads source PDFs and uploads merged results.
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
}

// NewS3Client loads AWS configuration and builds the transfer managers.
func NewS3Client(ctx context.Context, o S3Options) (*S3Client, error) {
	var loaders []func(*awscfg.LoadOptions) error
	if o.Region != "" {
		loaders = append(loaders, awscfg.WithRegion(o.Region))
	}
	if o.AccessKeyID != "" && o.SecretAccessKey != "" {
		loaders = append(loaders, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
		bucket:     o.Bucket,
	}, nil
}

// Bucket is the default bucket.
func (s *S3Client) Bucket() string { return s.bucket }

// Ping checks the default bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Get downloads bucket/key. An empty bucket means the default one. Objects
// larger than maxBytes are refused before download when maxBytes > 0.
func (s *S3Client) Get(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, *ObjectInfo, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat s3://%s/%s: %w", bucket, key, err)
	}
	info := &ObjectInfo{Metadata: make(map[string]string)}
	if head.ContentLength != nil {
		info.Size = *head.ContentLength
	}
	if head.ContentType != nil {
		info.ContentType = *head.ContentType
	}
	for k, v := range head.Metadata {
		info.Metadata[strings.ToLower(k)] = v
	}
	info.Name = info.Metadata["name"]
	info.Encrypted = info.Metadata["encrypted"] == "true"
	if maxBytes > 0 && info.Size > maxBytes {
		return nil, info, fmt.Errorf("%w: s3://%s/%s is %d bytes", ErrTooLarge, bucket, key, info.Size)
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, info.Size))
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	log.Info().Str("bucket", bucket).Str("key", key).Int64("size", n).Msg("downloaded object from S3")
	return buf.Bytes(), info, nil
}

// Put uploads data under key in the default bucket and returns its s3:// URL.
func (s *S3Client) Put(ctx context.Context, key string, data []byte, info ObjectInfo) (string, error) {
	meta := make(map[string]string, len(info.Metadata)+2)
	for k, v := range info.Metadata {
		meta[k] = v
	}
	if info.Name != "" {
		meta["name"] = info.Name
	}
	if info.Encrypted {
		meta["encrypted"] = "true"
		meta["encryption-format"] = magicGCM
	}
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: meta,
	}
	if info.ContentType != "" {
		in.ContentType = aws.String(info.ContentType)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		log.Error().Err(err).Str("key", key).Msg("S3 upload failed")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	url := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	log.Info().Str("url", url).Int("size", len(data)).Bool("encrypted", info.Encrypted).Msg("uploaded object to S3")
	return url, nil
}

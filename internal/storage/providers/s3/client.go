// Package s3 implements storage.Client for Amazon S3 and S3-compatible
// services such as MinIO.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mrlokans/bulkimport/internal/storage"
)

// API is the subset of the S3 client used here.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type Config struct {
	Bucket       string
	Region       string
	Endpoint     string // custom endpoint for S3-compatible services
	UsePathStyle bool
}

// Client implements storage.Client for one bucket. Keys are treated as
// slash-separated paths.
type Client struct {
	api    API
	bucket string
}

// NewClient builds a client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return New(api, cfg.Bucket), nil
}

func New(api API, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

func cleanKey(key string) string {
	return strings.Trim(path.Clean("/"+key), "/")
}

func (c *Client) List(ctx context.Context, dir string) ([]storage.FileInfo, error) {
	prefix := cleanKey(dir)
	if prefix != "" {
		prefix += "/"
	}

	var files []storage.FileInfo
	pages := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", c.bucket, prefix, err)
		}
		for _, p := range page.CommonPrefixes {
			key := strings.TrimSuffix(aws.ToString(p.Prefix), "/")
			files = append(files, storage.FileInfo{
				Name:  path.Base(key),
				Path:  key,
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			files = append(files, storage.FileInfo{
				Name:        path.Base(key),
				Path:        key,
				Size:        aws.ToInt64(obj.Size),
				ModifiedAt:  aws.ToTime(obj.LastModified),
				ContentHash: strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
	}
	return files, nil
}

func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(cleanKey(key)),
	})
	if err != nil {
		return nil, c.wrap("download", key, err)
	}
	return out.Body, nil
}

// Upload buffers content so the SDK can sign and retry the request body.
func (c *Client) Upload(ctx context.Context, key string, content io.Reader) error {
	body, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("failed to read upload body for %s: %w", key, err)
	}
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(cleanKey(key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return c.wrap("upload", key, err)
	}
	return nil
}

func (c *Client) GetMetadata(ctx context.Context, key string) (*storage.FileInfo, error) {
	clean := cleanKey(key)
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(clean),
	})
	if err != nil {
		return nil, c.wrap("stat", key, err)
	}
	return &storage.FileInfo{
		Name:        path.Base(clean),
		Path:        clean,
		Size:        aws.ToInt64(out.ContentLength),
		ModifiedAt:  aws.ToTime(out.LastModified),
		ContentHash: strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

func (c *Client) wrap(op, key string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("s3://%s/%s: %w", c.bucket, cleanKey(key), storage.ErrNotExist)
	}
	return fmt.Errorf("failed to %s s3://%s/%s: %w", op, c.bucket, cleanKey(key), err)
}

var _ storage.Client = (*Client)(nil)

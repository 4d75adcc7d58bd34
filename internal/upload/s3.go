package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/MimeLyc/image-translator/internal/jobs"
	filepkg "github.com/MimeLyc/image-translator/pkg/file"
)

const (
	defaultRegion  = "us-east-1"
	maxObjectBytes = 32 << 20
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	// PublicURL prefixes object keys in returned URLs. Defaults to {Endpoint}/{Bucket}.
	PublicURL string
}

// S3Uploader stores images in an S3 compatible bucket under random keys.
type S3Uploader struct {
	client    *s3.Client
	bucket    string
	publicURL string
	newKey    func(ext string) string
}

var _ jobs.Uploader = (*S3Uploader)(nil)

func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return &S3Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		newKey:    randomKey,
	}, nil
}

func randomKey(ext string) string {
	return uuid.NewString() + ext
}

// Upload buffers the image so the request can be signed, then puts it under
// a fresh key that keeps the original extension.
func (u *S3Uploader) Upload(ctx context.Context, file jobs.Upload) (string, error) {
	if file.Body == nil {
		return "", fmt.Errorf("upload %q: empty body", file.Filename)
	}
	data, err := io.ReadAll(io.LimitReader(file.Body, maxObjectBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %q: %w", file.Filename, err)
	}
	if len(data) > maxObjectBytes {
		return "", fmt.Errorf("upload %q: image exceeds %d bytes", file.Filename, maxObjectBytes)
	}

	key := u.newKey(filepkg.Ext(file.Filename))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType(file)),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return u.publicURL + "/" + key, nil
}

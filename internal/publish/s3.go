package publish

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const defaultURLExpiry = time.Hour

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Publisher uploads finished videos to a bucket under fresh object keys and
// returns a presigned GET URL.
type S3Publisher struct {
	client  objectPutter
	presign objectPresigner
	bucket  string
	prefix  string
	expiry  time.Duration
	newKey  func() string
}

// Options configures an S3Publisher.
type Options struct {
	Bucket string
	Region string
	Prefix string
	Expiry time.Duration
}

// NewS3Publisher loads AWS credentials from the default chain.
func NewS3Publisher(ctx context.Context, opts Options) (*S3Publisher, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	slog.Info("S3 publisher initialized", "bucket", opts.Bucket, "region", opts.Region)
	return newS3Publisher(client, s3.NewPresignClient(client), opts), nil
}

func newS3Publisher(client objectPutter, presign objectPresigner, opts Options) *S3Publisher {
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}
	return &S3Publisher{
		client:  client,
		presign: presign,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		expiry:  expiry,
		newKey:  func() string { return uuid.New().String() },
	}
}

func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Publish uploads the file at localPath and returns a presigned URL for it.
func (p *S3Publisher) Publish(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	ext := filepath.Ext(localPath)
	key := p.newKey() + ext
	if p.prefix != "" {
		key = path.Join(p.prefix, key)
	}
	contentType := contentTypeFor(ext)

	if _, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	}); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}
	return req.URL, nil
}

package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/identity"
)

// Options selects the bucket and how to reach it.
type Options struct {
	Bucket string
	Region string
	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	// Requests then use path-style addressing.
	Endpoint string
	// Anonymous skips request signing.
	Anonymous bool
}

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
	bucket   string
}

// NewClient creates a new S3 client using the default credential chain
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	slog.Info("s3_client_init", "bucket", opts.Bucket, "region", opts.Region, "endpoint", opts.Endpoint)

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Anonymous {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	slog.Info("s3_client_created", "bucket", opts.Bucket)

	return &Client{
		s3Client: s3Client,
		bucket:   opts.Bucket,
	}, nil
}

// ObjectKey is the key a stored image is exported under:
// <organization>/<username>/<mission>/<file name>.
func ObjectKey(t identity.Tuple, localPath string) string {
	return path.Join(t.Organization, t.Username, t.Mission, filepath.Base(localPath))
}

// UploadResult contains upload metadata
type UploadResult struct {
	Key    string
	SHA256 string
	Size   int64
}

// Upload puts a local file into the bucket under key.
func (c *Client) Upload(ctx context.Context, key, localPath string) (*UploadResult, error) {
	slog.Info("s3_upload_start", "bucket", c.bucket, "s3_key", key, "local_path", localPath)

	f, err := os.Open(localPath)
	if err != nil {
		slog.Error("local_file_open_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to open local file")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash local file")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "failed to rewind local file")
	}
	checksum := hex.EncodeToString(hash.Sum(nil))

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("image/png"),
		Metadata:      map[string]string{"sha256": checksum},
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to put object to S3")
	}

	slog.Info("s3_upload_complete", "s3_key", key, "size", size, "sha256", checksum[:16]+"...")

	return &UploadResult{Key: key, SHA256: checksum, Size: size}, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, s3Key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key),
	})

	if err != nil {
		if isNotFound(err) {
			slog.Debug("s3_object_not_found", "s3_key", s3Key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", s3Key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	slog.Debug("s3_object_exists", "s3_key", s3Key)
	return true, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

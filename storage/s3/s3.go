// Package s3 provides a Storage backed by Amazon S3 or an S3-compatible
// service such as MinIO. It supports presigned upload and download
// URLs, so clients can move file content without it passing through the
// application.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/affixlabs/affix/attach"
)

const defaultExpiry = 15 * time.Minute

// Storage stores objects in one bucket under an optional key prefix.
// It is safe for concurrent use.
type Storage struct {
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	bucket    string
	prefix    string
	publicURL string
}

// Config configures a Storage. Client construction, including custom
// endpoints and credentials, belongs to the caller.
type Config struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the bucket objects live in. It must already exist.
	Bucket string

	// KeyPrefix is prepended to every object id.
	KeyPrefix string

	// PublicURL, when set, makes URL return publicly addressable links
	// instead of presigned ones, for buckets served through a CDN.
	PublicURL string
}

func New(cfg Config) (*Storage, error) {
	if cfg.Client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Storage{
		client:    cfg.Client,
		uploader:  manager.NewUploader(cfg.Client),
		presigner: s3.NewPresignClient(cfg.Client),
		bucket:    cfg.Bucket,
		prefix:    prefix,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

func (s *Storage) key(id string) string { return s.prefix + id }

// countingReader reports how many bytes the uploader consumed, since
// the upload result carries no size.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *Storage) Upload(ctx context.Context, r io.Reader, id string, meta attach.Metadata) (string, attach.Metadata, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	}
	if mt := meta.MIMEType(); mt != "" {
		in.ContentType = aws.String(mt)
	}
	cr := &countingReader{r: r}
	in.Body = cr
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return "", nil, fmt.Errorf("upload %s: %w", id, err)
	}
	return id, attach.Metadata{"size": cr.n}, nil
}

func (s *Storage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", id, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return out.Body, nil
}

func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		// HeadObject reports a missing key as NotFound, not NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", id, err)
	}
	return true, nil
}

// Delete removes the object. S3 deletes are idempotent already: a
// missing key is a success.
func (s *Storage) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *Storage) URL(ctx context.Context, id string, opts attach.URLOptions) (string, error) {
	if s.publicURL != "" {
		return s.publicURL + "/" + s.key(id), nil
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	}
	if opts.Filename != "" {
		in.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", opts.Filename))
	}
	req, err := s.presigner.PresignGetObject(ctx, in, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", id, err)
	}
	return req.URL, nil
}

// PresignUpload returns a URL a client can PUT the object body to
// directly, bypassing the application.
func (s *Storage) PresignUpload(ctx context.Context, id string, expiry time.Duration) (*attach.PresignedUpload, error) {
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, fmt.Errorf("presign put %s: %w", id, err)
	}
	headers := make(map[string]string, len(req.SignedHeader))
	for k, vs := range req.SignedHeader {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}
	return &attach.PresignedUpload{
		ID:      id,
		URL:     req.URL,
		Method:  req.Method,
		Headers: headers,
	}, nil
}

// List pages through every object under the key prefix.
func (s *Storage) List(ctx context.Context, fn func(id string, modified time.Time, size int64) error) error {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		in.Prefix = aws.String(s.prefix)
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if err := fn(id, aws.ToTime(obj.LastModified), aws.ToInt64(obj.Size)); err != nil {
				return err
			}
		}
	}
	return nil
}

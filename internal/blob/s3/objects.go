package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// minPartSize is the S3 lower bound for multipart parts (5 MiB).
const minPartSize int64 = 5 << 20

// ObjectStore reads and writes archive objects in the client's bucket.
type ObjectStore struct {
	client *s3.Client
	bucket string
}

// NewObjectStore creates an ObjectStore on c.
func NewObjectStore(c *Client) *ObjectStore {
	return &ObjectStore{client: c.S3(), bucket: c.Bucket()}
}

func (o *ObjectStore) input(path string, body io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(path),
		Body:        body,
		ContentType: aws.String(contentType),
	}
}

// Put uploads data with a single PutObject request.
func (o *ObjectStore) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := o.client.PutObject(ctx, o.input(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data as JSONL through the upload manager. partSize is
// raised to the S3 minimum when smaller.
func (o *ObjectStore) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(o.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, o.input(path, data, contentTypeJSONL)); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

// Get returns the object body at path; the caller closes it. Missing objects
// yield domain.ErrNotFound.
func (o *ObjectStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(path),
	})
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// isNotFound matches NoSuchKey, NotFound and bare 404s from providers that
// return neither typed error.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &nsk) || errors.As(err, &nf) ||
		(errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound)
}

var (
	_ domain.BlobWriter = (*ObjectStore)(nil)
	_ domain.BlobReader = (*ObjectStore)(nil)
)

package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/will87p/betpool/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// ImageStore implements domain.ImageStore on an S3-compatible backend. Market
// images live outside the ledger; losing the bucket never affects settlement.
//
// Key schema:
//
//	markets/{id}/image
type ImageStore struct {
	client *s3.Client
	bucket string
}

// NewImageStore creates an ImageStore that stores objects in the given
// client's configured bucket.
func NewImageStore(c *Client) *ImageStore {
	return &ImageStore{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

func imageKey(marketID int64) string {
	return "markets/" + strconv.FormatInt(marketID, 10) + "/image"
}

// Put uploads a market image, replacing any previous one. The upload manager
// splits large payloads into concurrent multipart uploads; part size is
// clamped to the S3 minimum.
func (is *ImageStore) Put(ctx context.Context, marketID int64, data io.Reader, contentType string) error {
	uploader := manager.NewUploader(is.client, func(u *manager.Uploader) {
		u.PartSize = minPartSize
	})

	input := &s3.PutObjectInput{
		Bucket:      aws.String(is.bucket),
		Key:         aws.String(imageKey(marketID)),
		Body:        data,
		ContentType: aws.String(contentType),
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put image %d: %w", marketID, err)
	}
	return nil
}

// Get retrieves a market image and its content type. The caller is
// responsible for closing the returned reader. Returns domain.ErrNotFound if
// no image has been uploaded for the market.
func (is *ImageStore) Get(ctx context.Context, marketID int64) (io.ReadCloser, string, error) {
	output, err := is.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(is.bucket),
		Key:    aws.String(imageKey(marketID)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", fmt.Errorf("s3blob: get image %d: %w", marketID, domain.ErrNotFound)
		}
		return nil, "", fmt.Errorf("s3blob: get image %d: %w", marketID, err)
	}
	return output.Body, aws.ToString(output.ContentType), nil
}

// Delete removes a market image. Idempotent: no error if the object does not
// exist.
func (is *ImageStore) Delete(ctx context.Context, marketID int64) error {
	_, err := is.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(is.bucket),
		Key:    aws.String(imageKey(marketID)),
	})
	if err != nil {
		return fmt.Errorf("s3blob: delete image %d: %w", marketID, err)
	}
	return nil
}

// isNotFound returns true when the error indicates the requested S3 object
// does not exist. It checks for both the SDK typed error (NoSuchKey) and
// the generic 404 response.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// GetObject returns NoSuchKey but HeadObject returns a generic 404,
	// wrapped by the SDK as *types.NotFound.
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// Fallback: some S3-compatible providers return a ResponseError with
	// HTTP 404. We check via the smithy HTTP response interface.
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404 {
		return true
	}

	return false
}

// Compile-time interface check.
var _ domain.ImageStore = (*ImageStore)(nil)
